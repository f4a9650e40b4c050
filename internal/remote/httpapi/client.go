// Package httpapi implements remote.API over the processing backend's JSON
// REST protocol.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yourorg/checkout-orchestrator/internal/remote"
	"github.com/yourorg/checkout-orchestrator/internal/remote/wire"
)

const (
	defaultTimeout  = 30 * time.Second
	apiPrefix       = "/v2/processing"
	requestIDHeader = "X-Request-ID"
)

// Client talks to the processing backend. It never retries on its own;
// retries are the caller's policy.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Client for baseURL (scheme and host, no trailing path).
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func invoicePath(invoiceID string, rest ...string) string {
	parts := append([]string{apiPrefix, "invoices", url.PathEscape(invoiceID)}, rest...)
	return strings.Join(parts, "/")
}

// ObtainInvoice implements remote.API.
func (c *Client) ObtainInvoice(ctx context.Context, invoiceID string, creds remote.Credentials) (remote.Invoice, error) {
	var out wire.Invoice
	if err := c.do(ctx, http.MethodGet, invoicePath(invoiceID), nil, creds, nil, &out); err != nil {
		return remote.Invoice{}, err
	}
	return wire.ToInvoice(out), nil
}

// ObtainInvoicePaymentMethods implements remote.API.
func (c *Client) ObtainInvoicePaymentMethods(ctx context.Context, invoiceID string, creds remote.Credentials) ([]remote.MethodDescriptor, error) {
	var out []wire.PaymentMethod
	if err := c.do(ctx, http.MethodGet, invoicePath(invoiceID, "payment-methods"), nil, creds, nil, &out); err != nil {
		return nil, err
	}
	return wire.ToMethods(out), nil
}

// CreatePaymentResource implements remote.API.
func (c *Client) CreatePaymentResource(ctx context.Context, params remote.PaymentResourceParams, creds remote.Credentials) (remote.PaymentResource, error) {
	body, err := wire.FromPaymentResourceParams(params)
	if err != nil {
		return remote.PaymentResource{}, &remote.NetworkError{Kind: remote.CannotEncodeRequestBody, Err: err}
	}
	var out wire.PaymentResource
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/payment-resources", nil, creds, body, &out); err != nil {
		return remote.PaymentResource{}, err
	}
	return wire.ToPaymentResource(out), nil
}

// CreatePayment implements remote.API.
func (c *Client) CreatePayment(ctx context.Context, invoiceID string, params remote.PaymentParams, creds remote.Credentials) (remote.Payment, error) {
	var out wire.Payment
	if err := c.do(ctx, http.MethodPost, invoicePath(invoiceID, "payments"), nil, creds, wire.FromPaymentParams(params), &out); err != nil {
		return remote.Payment{}, err
	}
	return wire.ToPayment(out), nil
}

// ObtainInvoiceEvents implements remote.API.
func (c *Client) ObtainInvoiceEvents(ctx context.Context, invoiceID string, creds remote.Credentials) ([]remote.InvoiceEvent, error) {
	var out []wire.InvoiceEvent
	query := url.Values{"limit": []string{"100"}}
	if err := c.do(ctx, http.MethodGet, invoicePath(invoiceID, "events"), query, creds, nil, &out); err != nil {
		return nil, err
	}
	return wire.ToEvents(out), nil
}

// ObtainPayment implements remote.API. A reference by external id is looked
// up through the payments collection.
func (c *Client) ObtainPayment(ctx context.Context, invoiceID string, ref remote.PaymentRef, creds remote.Credentials) (remote.Payment, error) {
	var out wire.Payment
	var err error
	switch {
	case ref.PaymentID != "":
		err = c.do(ctx, http.MethodGet, invoicePath(invoiceID, "payments", url.PathEscape(ref.PaymentID)), nil, creds, nil, &out)
	case ref.ExternalID != "":
		query := url.Values{"externalID": []string{ref.ExternalID}}
		err = c.do(ctx, http.MethodGet, invoicePath(invoiceID, "payments"), query, creds, nil, &out)
	default:
		return remote.Payment{}, &remote.NetworkError{Kind: remote.CannotEncodeRequestBody, Err: errors.New("payment reference is empty")}
	}
	if err != nil {
		return remote.Payment{}, err
	}
	return wire.ToPayment(out), nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, creds remote.Credentials, body, out any) error {
	ctx, span := otel.Tracer("httpapi").Start(ctx, method+" "+path)
	defer span.End()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &remote.NetworkError{Kind: remote.CannotEncodeRequestBody, Err: err}
		}
		reader = bytes.NewReader(raw)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &remote.NetworkError{Kind: remote.CannotEncodeRequestBody, Err: err}
	}

	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	span.SetAttributes(attribute.String("request.id", requestID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return fmt.Errorf("httpapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpapi: reading %s %s response: %w", method, path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if !isJSON(resp.Header.Get("Content-Type")) {
			return &remote.NetworkError{Kind: remote.WrongResponseType, Err: fmt.Errorf("content type %q", resp.Header.Get("Content-Type"))}
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return &remote.NetworkError{Kind: remote.CannotMapResponse, Err: err}
		}
		return nil
	}

	span.SetStatus(codes.Error, resp.Status)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		var errBody wire.Error
		if err := json.Unmarshal(respBody, &errBody); err == nil && errBody.Code != "" {
			return remote.ServerFailure(resp.StatusCode, errBody.ServerError())
		}
	}
	return &remote.NetworkError{Kind: remote.UnacceptableStatusCode, StatusCode: resp.StatusCode}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

var _ remote.API = (*Client)(nil)
