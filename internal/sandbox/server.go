// Package sandbox is an in-memory processing backend speaking the checkout's
// JSON protocol. It seeds invoices, tokenizes cards, settles payments by
// configurable rules and can inject faults, so the checkout can be driven
// end to end without a real backend.
package sandbox

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yourorg/checkout-orchestrator/internal/metrics"
	"github.com/yourorg/checkout-orchestrator/internal/monitor"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
	"github.com/yourorg/checkout-orchestrator/internal/remote/wire"
)

const (
	processingPrefix = "/v2/processing"
	sandboxPrefix    = "/v2/sandbox"
	// ThreeDSPath is where the browser posts the 3-D Secure result.
	ThreeDSPath = sandboxPrefix + "/3ds"
)

// Server exposes a Store over HTTP.
type Server struct {
	store     *Store
	contracts monitor.Contracts
	chaos     *Chaos
	metrics   *metrics.Metrics
	logger    *log.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithContracts validates request bodies before they reach the store.
func WithContracts(c monitor.Contracts) Option {
	return func(s *Server) { s.contracts = c }
}

// WithChaos injects faults into the processing endpoints.
func WithChaos(c *Chaos) Option {
	return func(s *Server) { s.chaos = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a Server. It panics on a nil store.
func NewServer(store *Store, opts ...Option) *Server {
	if store == nil {
		panic("sandbox: store cannot be nil")
	}
	s := &Server{store: store, logger: log.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine serving the protocol.
func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("checkout-sandbox"), s.observe)

	api := router.Group(processingPrefix, s.chaos.Middleware())
	api.POST("/payment-resources", s.requireToken, s.createPaymentResource)

	invoices := api.Group("/invoices/:invoiceID", s.requireToken)
	invoices.GET("", s.getInvoice)
	invoices.GET("/payment-methods", s.getPaymentMethods)
	invoices.POST("/payments", s.createPayment)
	invoices.GET("/payments", s.getPayments)
	invoices.GET("/payments/:paymentID", s.getPayment)
	invoices.GET("/events", s.getEvents)

	admin := router.Group(sandboxPrefix)
	admin.POST("/invoices", s.seedInvoice)
	admin.POST("/3ds/:paymentID", s.completeThreeDS)
	return router
}

func (s *Server) observe(c *gin.Context) {
	c.Next()
	endpoint := c.FullPath()
	if endpoint == "" {
		endpoint = "unmatched"
	}
	s.metrics.ObserveSandboxRequest(c.Request.Method+" "+endpoint, c.Writer.Status())
}

func (s *Server) requireToken(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token == "" {
		s.fail(c, reject(http.StatusUnauthorized, remote.ServerErrorOperationNotPermitted, "missing bearer token"))
		return
	}
	c.Set("token", token)
	c.Next()
}

func (s *Server) fail(c *gin.Context, err error) {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		s.logger.Printf("Sandbox: internal error: %v", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.AbortWithStatusJSON(apiErr.status, wire.Error{Code: string(apiErr.code), Message: apiErr.msg})
}

// bind checks the body against its contract and decodes it into out.
func (s *Server) bind(c *gin.Context, contract string, out any) bool {
	body, err := c.GetRawData()
	if err != nil {
		s.fail(c, reject(http.StatusBadRequest, remote.ServerErrorInvalidRequest, "cannot read body: %v", err))
		return false
	}
	if err := s.contracts.Check(contract, body); err != nil {
		s.logger.Printf("Sandbox: rejected %s body: %v", contract, err)
		s.fail(c, reject(http.StatusBadRequest, remote.ServerErrorInvalidRequest, "%v", err))
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		s.fail(c, reject(http.StatusBadRequest, remote.ServerErrorInvalidRequest, "malformed body: %v", err))
		return false
	}
	return true
}

func (s *Server) getInvoice(c *gin.Context) {
	inv, err := s.store.Invoice(c.Param("invoiceID"), c.GetString("token"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.FromInvoice(inv))
}

func (s *Server) getPaymentMethods(c *gin.Context) {
	methods, err := s.store.Methods(c.Param("invoiceID"), c.GetString("token"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.FromMethods(methods))
}

func (s *Server) createPaymentResource(c *gin.Context) {
	if !s.store.KnownToken(c.GetString("token")) {
		s.fail(c, reject(http.StatusUnauthorized, remote.ServerErrorOperationNotPermitted, "unknown access token"))
		return
	}
	var req wire.PaymentResourceParams
	if !s.bind(c, monitor.PaymentResourceContract, &req) {
		return
	}
	res, err := s.store.CreateResource(wire.ToPaymentResourceParams(req))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, wire.FromPaymentResource(res))
}

func (s *Server) createPayment(c *gin.Context) {
	var req wire.PaymentParams
	if !s.bind(c, monitor.PaymentContract, &req) {
		return
	}
	redirectBase := "http://" + c.Request.Host + ThreeDSPath
	p, err := s.store.CreatePayment(c.Param("invoiceID"), c.GetString("token"), wire.ToPaymentParams(req), redirectBase)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Printf("Sandbox: payment %s (external id %q) is %s", p.ID, p.ExternalID, p.Status)
	c.JSON(http.StatusCreated, wire.FromPayment(p))
}

func (s *Server) getPayments(c *gin.Context) {
	invoiceID, token := c.Param("invoiceID"), c.GetString("token")
	if externalID := c.Query("externalID"); externalID != "" {
		p, err := s.store.Payment(invoiceID, token, remote.ByExternalID(externalID))
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, wire.FromPayment(p))
		return
	}
	payments, err := s.store.Payments(invoiceID, token)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]wire.Payment, 0, len(payments))
	for _, p := range payments {
		out = append(out, wire.FromPayment(p))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getPayment(c *gin.Context) {
	p, err := s.store.Payment(c.Param("invoiceID"), c.GetString("token"), remote.ByPaymentID(c.Param("paymentID")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.FromPayment(p))
}

func (s *Server) getEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := s.store.Events(c.Param("invoiceID"), c.GetString("token"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.FromEvents(events))
}

// SeedRequest is the body of the invoice seeding endpoint.
type SeedRequest struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Currency    string `json:"currency" binding:"required,len=3"`
	Product     string `json:"product"`
	DueInSecond int64  `json:"dueInSeconds"`
	AccessToken string `json:"accessToken"`
}

// SeedResponse returns the seeded invoice with the token granting access to it.
type SeedResponse struct {
	Invoice     wire.Invoice `json:"invoice"`
	AccessToken string       `json:"accessToken"`
}

func (s *Server) seedInvoice(c *gin.Context) {
	var req SeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.Error{Code: string(remote.ServerErrorInvalidRequest), Message: "Invalid request format: " + err.Error()})
		return
	}
	inv, token := s.store.AddInvoice(InvoiceTemplate{
		ID:          req.ID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Product:     req.Product,
		DueIn:       time.Duration(req.DueInSecond) * time.Second,
		AccessToken: req.AccessToken,
	})
	s.logger.Printf("Sandbox: seeded invoice %s for %d %s", inv.ID, inv.Amount, inv.Currency)
	c.JSON(http.StatusCreated, SeedResponse{Invoice: wire.FromInvoice(inv), AccessToken: token})
}

func (s *Server) completeThreeDS(c *gin.Context) {
	success := c.DefaultQuery("result", "success") == "success"
	if err := s.store.CompleteInteraction(c.Param("paymentID"), success); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
