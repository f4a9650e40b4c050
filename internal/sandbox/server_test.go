package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/config"
	"github.com/yourorg/checkout-orchestrator/internal/metrics"
	"github.com/yourorg/checkout-orchestrator/internal/monitor"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
	"github.com/yourorg/checkout-orchestrator/internal/remote/httpapi"
	"github.com/yourorg/checkout-orchestrator/internal/remote/wire"
	"github.com/yourorg/checkout-orchestrator/internal/retry"
	"github.com/yourorg/checkout-orchestrator/internal/scenario"
	"github.com/yourorg/checkout-orchestrator/internal/selection"
	"github.com/yourorg/checkout-orchestrator/internal/session"
)

type harness struct {
	store   *Store
	metrics *metrics.Metrics
	server  *httptest.Server
	client  *httpapi.Client
	token   string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rules, err := NewRules(config.Default().Sandbox.Rules)
	require.NoError(t, err)
	contracts, err := monitor.DefaultContracts()
	require.NoError(t, err)

	h := &harness{store: NewStore(rules, nil), metrics: metrics.NewMetrics(prometheus.NewRegistry())}
	_, h.token = h.store.AddInvoice(InvoiceTemplate{ID: "inv-1", Amount: 150000, Currency: "RUB", Product: "Tea"})

	opts = append([]Option{WithContracts(contracts), WithMetrics(h.metrics), WithLogger(log.New(io.Discard, "", 0))}, opts...)
	h.server = httptest.NewServer(NewServer(h.store, opts...).Router())
	t.Cleanup(h.server.Close)
	h.client = httpapi.NewClient(h.server.URL, h.server.Client())
	return h
}

func (h *harness) creds() remote.Credentials {
	return remote.Credentials{AccessToken: h.token}
}

func (h *harness) post(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNewServer_PanicsOnNilStore(t *testing.T) {
	assert.Panics(t, func() { NewServer(nil) })
}

func TestServer_ClientRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.client.ObtainInvoice(ctx, "inv-1", h.creds())
	require.NoError(t, err)
	assert.Equal(t, int64(150000), inv.Amount)
	assert.Equal(t, remote.InvoiceUnpaid, inv.Status)

	methods, err := h.client.ObtainInvoicePaymentMethods(ctx, "inv-1", h.creds())
	require.NoError(t, err)
	assert.Equal(t, DefaultMethods(), methods)

	res, err := h.client.CreatePaymentResource(ctx, remote.PaymentResourceParams{
		Instrument: remote.PaymentInstrument{Card: &remote.CardData{Number: "4242424242424242", ExpDate: "12/30", CVV: "123"}},
		Client:     remote.ClientInfo{Fingerprint: "fp"},
	}, h.creds())
	require.NoError(t, err)
	assert.Equal(t, "424242******4242", res.Details.CardNumberMask)

	params := paymentParams("ext-1", res)
	p, err := h.client.CreatePayment(ctx, "inv-1", params, h.creds())
	require.NoError(t, err)
	assert.Equal(t, remote.PaymentProcessed, p.Status)

	byExt, err := h.client.ObtainPayment(ctx, "inv-1", remote.ByExternalID("ext-1"), h.creds())
	require.NoError(t, err)
	assert.Equal(t, p.ID, byExt.ID)
	byID, err := h.client.ObtainPayment(ctx, "inv-1", remote.ByPaymentID(p.ID), h.creds())
	require.NoError(t, err)
	assert.Equal(t, "ext-1", byID.ExternalID)

	events, err := h.client.ObtainInvoiceEvents(ctx, "inv-1", h.creds())
	require.NoError(t, err)
	changes := remote.Changes(remote.SortNewestFirst(events))
	require.NotEmpty(t, changes)
	assert.Equal(t, remote.ChangePaymentStatusChanged, changes[0].Kind)
	assert.Equal(t, remote.InvoicePaid, changes[1].InvoiceStatus)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SandboxRequests.WithLabelValues("GET /v2/processing/invoices/:invoiceID", "2xx")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.SandboxRequests.WithLabelValues("GET /v2/processing/invoices/:invoiceID/payments", "2xx"))+
		testutil.ToFloat64(h.metrics.SandboxRequests.WithLabelValues("GET /v2/processing/invoices/:invoiceID/payments/:paymentID", "2xx")))
}

func TestServer_ErrorsReachClientAsServerErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.ObtainInvoice(ctx, "inv-1", remote.Credentials{AccessToken: "stolen"})
	se, ok := remote.AsServerError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, remote.ServerErrorOperationNotPermitted, se.Code)

	_, err = h.client.ObtainInvoice(ctx, "missing", h.creds())
	se, ok = remote.AsServerError(err)
	require.True(t, ok)
	assert.Equal(t, remote.ServerErrorInvoiceNotFound, se.Code)

	_, err = h.client.ObtainPayment(ctx, "inv-1", remote.ByExternalID("never"), h.creds())
	se, ok = remote.AsServerError(err)
	require.True(t, ok)
	assert.Equal(t, remote.ServerErrorPaymentNotFound, se.Code)

	_, err = h.client.CreatePayment(ctx, "inv-1", remote.PaymentParams{
		ExternalID: "ext-1",
		Flow:       remote.InstantFlow(),
		Payer:      remote.Payer{PaymentToolToken: "forged", PaymentSession: "forged"},
	}, h.creds())
	se, ok = remote.AsServerError(err)
	require.True(t, ok)
	assert.Equal(t, remote.ServerErrorInvalidPaymentToolToken, se.Code)
}

func TestServer_ContractViolations(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/v2/processing/payment-resources", h.token, map[string]any{
		"paymentTool": map[string]any{"paymentToolType": "CardData", "cardNumber": "not-a-card", "expDate": "12/30"},
		"clientInfo":  map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body wire.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalidRequest", body.Code)
	assert.Contains(t, body.Message, "cardNumber")

	resp = h.post(t, "/v2/processing/invoices/inv-1/payments", h.token, map[string]any{"flow": map[string]any{"type": "PaymentFlowInstant"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.post(t, "/v2/processing/payment-resources", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = h.post(t, "/v2/processing/payment-resources", "unknown", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.SandboxRequests.WithLabelValues("POST /v2/processing/payment-resources", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SandboxRequests.WithLabelValues("POST /v2/processing/invoices/:invoiceID/payments", "4xx")))
}

func TestServer_Chaos(t *testing.T) {
	h := newHarness(t, WithChaos(NewChaos(config.ChaosConfig{Enabled: true, FaultProbability: 1}, 1)))

	_, err := h.client.ObtainInvoice(context.Background(), "inv-1", h.creds())
	var netErr *remote.NetworkError
	require.True(t, errors.As(err, &netErr), "got %v", err)
	assert.Equal(t, remote.UnacceptableStatusCode, netErr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	assert.False(t, remote.IsServerError(err), "a fault is retryable")

	// The sandbox endpoints stay reachable.
	resp := h.post(t, "/v2/sandbox/invoices", "", SeedRequest{Amount: 100, Currency: "USD"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestServer_SeedInvoice(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/v2/sandbox/invoices", "", SeedRequest{ID: "inv-2", Amount: 500, Currency: "EUR", AccessToken: "tok-2"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var seeded SeedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&seeded))
	assert.Equal(t, "inv-2", seeded.Invoice.ID)
	assert.Equal(t, "tok-2", seeded.AccessToken)

	inv, err := h.client.ObtainInvoice(context.Background(), "inv-2", remote.Credentials{AccessToken: "tok-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(500), inv.Amount)

	resp = h.post(t, "/v2/sandbox/invoices", "", map[string]any{"amount": 0, "currency": "EUR"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type autoPresenter struct {
	mu       sync.Mutex
	screens  []scenario.Screen
	complete func(uri string)
}

func (p *autoPresenter) Present(screen scenario.Screen) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screens = append(p.screens, screen)
}

func (p *autoPresenter) PresentInteraction(ui remote.UserInteraction) {
	p.complete(ui.Redirect.URI)
}

type noopDelegate struct{}

func (noopDelegate) PaymentCancelled(string)                         {}
func (noopDelegate) PaymentFinished(string, checkout.PaymentMethod) {}

func TestServer_ScenarioEndToEnd(t *testing.T) {
	tests := []struct {
		name     string
		card     string
		wantKind checkout.RouteKind
		wantCode checkout.Code
	}{
		{name: "frictionless", card: "4242424242424242", wantKind: checkout.RoutePaidInvoice},
		{name: "three-d secure", card: "4000000000003220", wantKind: checkout.RoutePaidInvoice},
		{name: "insufficient funds", card: "4000000000009995", wantKind: checkout.RouteUnpaidInvoice, wantCode: checkout.PaymentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			sess, err := session.NewSession("inv-1", h.token, session.HostConfig{
				AllowedMethods: []checkout.PaymentMethod{checkout.MethodBankCard},
			})
			require.NoError(t, err)

			var s *scenario.Scenario
			presenter := &autoPresenter{}
			presenter.complete = func(uri string) {
				resp, err := h.server.Client().Post(uri+"?result=success", "application/json", strings.NewReader("{}"))
				if err == nil {
					resp.Body.Close()
				}
				s.InteractionFinished()
			}
			s = scenario.New(sess, scenario.Dependencies{
				API:       h.client,
				Presenter: presenter,
				Delegate:  noopDelegate{},
				Prompter:  retry.PrompterFunc(func(context.Context, error) bool { return false }),
				Device:    selection.NewStaticDevice(selection.CapabilityUnavailable),
			}, scenario.Options{
				Logger:         log.New(io.Discard, "", 0),
				FirstPollDelay: 5 * time.Millisecond,
				PollInterval:   5 * time.Millisecond,
			})

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			require.NoError(t, s.Start(ctx))
			require.NoError(t, s.SelectMethod(ctx, checkout.MethodBankCard))
			require.NoError(t, s.SubmitCard(ctx, remote.CardData{Number: tt.card, ExpDate: "12/30", CVV: "123"}, "payer@example.com"))

			current := s.Current()
			require.Equal(t, tt.wantKind, current.Kind)
			if tt.wantCode != "" {
				require.NotNil(t, current.Error)
				assert.Equal(t, tt.wantCode, current.Error.Code)
				code, ok := current.Error.ServerErrorCode()
				require.True(t, ok)
				assert.Equal(t, remote.ServerErrorInsufficientFunds, code)
			}
		})
	}
}
