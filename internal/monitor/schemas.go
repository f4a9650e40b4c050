package monitor

const paymentResourceSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "PaymentResourceParams",
  "type": "object",
  "required": ["paymentTool", "clientInfo"],
  "properties": {
    "paymentTool": {
      "type": "object",
      "required": ["paymentToolType"],
      "properties": {
        "paymentToolType": { "enum": ["CardData", "TokenizedCardData"] },
        "cardNumber": { "type": "string", "pattern": "^[0-9]{12,19}$" },
        "expDate": { "type": "string", "pattern": "^(0[1-9]|1[0-2])/[0-9]{2}$" },
        "cvv": { "type": "string", "pattern": "^[0-9]{3,4}$" },
        "cardHolder": { "type": "string" },
        "provider": { "type": "string" },
        "merchantID": { "type": "string" },
        "paymentToken": { "type": "string" }
      },
      "oneOf": [
        {
          "properties": { "paymentToolType": { "const": "CardData" } },
          "required": ["cardNumber", "expDate"]
        },
        {
          "properties": { "paymentToolType": { "const": "TokenizedCardData" } },
          "required": ["provider", "paymentToken"]
        }
      ]
    },
    "clientInfo": {
      "type": "object",
      "properties": {
        "fingerprint": { "type": "string" },
        "ip": { "type": "string" }
      }
    }
  }
}`

const paymentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "PaymentParams",
  "type": "object",
  "required": ["flow", "payer"],
  "properties": {
    "externalID": { "type": "string", "minLength": 1 },
    "flow": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "enum": ["PaymentFlowInstant", "PaymentFlowHold"] },
        "onHoldExpiration": { "enum": ["cancel", "capture"] }
      }
    },
    "payer": {
      "type": "object",
      "required": ["payerType", "paymentToolToken", "paymentSession"],
      "properties": {
        "payerType": { "const": "PaymentResourcePayer" },
        "paymentToolToken": { "type": "string", "minLength": 1 },
        "paymentSession": { "type": "string", "minLength": 1 },
        "contactInfo": {
          "type": "object",
          "properties": {
            "email": { "type": "string", "format": "email" }
          }
        }
      }
    }
  }
}`
