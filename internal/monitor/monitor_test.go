package monitor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validCard = `{
	"paymentTool": {"paymentToolType": "CardData", "cardNumber": "4242424242424242", "expDate": "12/30", "cvv": "123"},
	"clientInfo": {"fingerprint": "fp-1"}
}`

const validPayment = `{
	"externalID": "ext-1",
	"flow": {"type": "PaymentFlowInstant"},
	"payer": {
		"payerType": "PaymentResourcePayer",
		"paymentToolToken": "tool-1",
		"paymentSession": "session-1",
		"contactInfo": {"email": "payer@example.com"}
	}
}`

func TestLoadContractMonitor(t *testing.T) {
	schemaDir := t.TempDir()
	schemaFile := filepath.Join(schemaDir, "payment_schema.json")
	if err := os.WriteFile(schemaFile, []byte(paymentSchema), 0644); err != nil {
		t.Fatalf("Failed to write schema file: %v", err)
	}

	t.Run("SuccessfulLoad", func(t *testing.T) {
		cm, err := LoadContractMonitor(schemaFile)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cm.schema == nil {
			t.Fatal("Expected schema to be compiled")
		}
		valid, violations, err := cm.Validate([]byte(validPayment))
		if err != nil || !valid {
			t.Fatalf("Expected payment to be valid, got valid=%v violations=%v err=%v", valid, violations, err)
		}
	})

	t.Run("SchemaFileNotFound", func(t *testing.T) {
		_, err := LoadContractMonitor(filepath.Join(schemaDir, "absent.json"))
		if err == nil {
			t.Fatal("Expected error for missing schema, got nil")
		}
		if !strings.Contains(err.Error(), "error loading or compiling schema") {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("InvalidSchemaSyntax", func(t *testing.T) {
		if _, err := NewContractMonitor("broken", "{invalid_json"); err == nil {
			t.Fatal("Expected error for invalid schema syntax, got nil")
		}
	})
}

func TestPaymentResourceContract(t *testing.T) {
	cm, err := NewContractMonitor(PaymentResourceContract, paymentResourceSchema)
	if err != nil {
		t.Fatalf("Failed to compile schema: %v", err)
	}

	tests := []struct {
		name          string
		payload       string
		expectValid   bool
		errorContains string
	}{
		{name: "Card", payload: validCard, expectValid: true},
		{
			name:        "ApplePay",
			payload:     `{"paymentTool": {"paymentToolType": "TokenizedCardData", "provider": "ApplePay", "merchantID": "m", "paymentToken": "dG9rZW4="}, "clientInfo": {}}`,
			expectValid: true,
		},
		{
			name:          "MissingClientInfo",
			payload:       `{"paymentTool": {"paymentToolType": "CardData", "cardNumber": "4242424242424242", "expDate": "12/30"}}`,
			errorContains: "clientInfo is required",
		},
		{
			name:          "UnknownToolType",
			payload:       `{"paymentTool": {"paymentToolType": "Crypto"}, "clientInfo": {}}`,
			errorContains: "paymentToolType",
		},
		{
			name:          "BadCardNumber",
			payload:       `{"paymentTool": {"paymentToolType": "CardData", "cardNumber": "4242-4242", "expDate": "12/30"}, "clientInfo": {}}`,
			errorContains: "cardNumber",
		},
		{
			name:          "BadExpiry",
			payload:       `{"paymentTool": {"paymentToolType": "CardData", "cardNumber": "4242424242424242", "expDate": "13/30"}, "clientInfo": {}}`,
			errorContains: "expDate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, violations, err := cm.Validate([]byte(tt.payload))
			if err != nil {
				t.Fatalf("Unexpected functional error: %v", err)
			}
			if valid != tt.expectValid {
				t.Fatalf("Expected valid=%v, got %v (violations: %v)", tt.expectValid, valid, violations)
			}
			if tt.errorContains != "" && !strings.Contains(strings.Join(violations, "; "), tt.errorContains) {
				t.Errorf("Expected violations to mention %q, got %v", tt.errorContains, violations)
			}
		})
	}
}

func TestPaymentContract(t *testing.T) {
	cm, err := NewContractMonitor(PaymentContract, paymentSchema)
	if err != nil {
		t.Fatalf("Failed to compile schema: %v", err)
	}

	if valid, violations, _ := cm.Validate([]byte(validPayment)); !valid {
		t.Fatalf("Expected valid payment, got %v", violations)
	}

	invalid := map[string]string{
		"MissingPayer": `{"flow": {"type": "PaymentFlowInstant"}}`,
		"WrongFlow":    `{"flow": {"type": "PaymentFlowLater"}, "payer": {"payerType": "PaymentResourcePayer", "paymentToolToken": "t", "paymentSession": "s"}}`,
		"EmptyToken":   `{"flow": {"type": "PaymentFlowInstant"}, "payer": {"payerType": "PaymentResourcePayer", "paymentToolToken": "", "paymentSession": "s"}}`,
		"BadEmail":     `{"flow": {"type": "PaymentFlowInstant"}, "payer": {"payerType": "PaymentResourcePayer", "paymentToolToken": "t", "paymentSession": "s", "contactInfo": {"email": "nope"}}}`,
	}
	for name, payload := range invalid {
		t.Run(name, func(t *testing.T) {
			valid, violations, err := cm.Validate([]byte(payload))
			if err != nil {
				t.Fatalf("Unexpected functional error: %v", err)
			}
			if valid || len(violations) == 0 {
				t.Errorf("Expected violations, got valid=%v", valid)
			}
		})
	}
}

func TestContracts_Check(t *testing.T) {
	contracts, err := DefaultContracts()
	if err != nil {
		t.Fatalf("Failed to compile default contracts: %v", err)
	}
	if len(contracts) != 2 {
		t.Fatalf("Expected 2 contracts, got %d", len(contracts))
	}

	if err := contracts.Check(PaymentResourceContract, []byte(validCard)); err != nil {
		t.Errorf("Expected valid card body, got %v", err)
	}
	if err := contracts.Check("unknown", []byte(`{}`)); err != nil {
		t.Errorf("Expected unknown contract to pass, got %v", err)
	}

	err = contracts.Check(PaymentContract, []byte(`{"flow": {}`))
	var violation *ViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("Expected a ViolationError for malformed JSON, got %v", err)
	}
	if violation.Contract != PaymentContract {
		t.Errorf("Expected contract %q, got %q", PaymentContract, violation.Contract)
	}

	err = contracts.Check(PaymentContract, []byte(`{}`))
	if !errors.As(err, &violation) || len(violation.Violations) != 2 {
		t.Fatalf("Expected two violations for an empty body, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "payment: Validation errors: ") {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestFormatErrors(t *testing.T) {
	tests := []struct {
		name           string
		violations     []string
		expectedOutput string
	}{
		{name: "NoErrors", violations: []string{}, expectedOutput: ""},
		{name: "SingleError", violations: []string{"(root): flow is required"}, expectedOutput: "Validation errors: (root): flow is required"},
		{name: "MultipleErrors", violations: []string{"Error 1", "Error 2"}, expectedOutput: "Validation errors: Error 1; Error 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatErrors(tt.violations); got != tt.expectedOutput {
				t.Errorf("Expected %q, got %q", tt.expectedOutput, got)
			}
		})
	}
}
