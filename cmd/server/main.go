package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourorg/checkout-orchestrator/internal/config"
	"github.com/yourorg/checkout-orchestrator/internal/metrics"
	"github.com/yourorg/checkout-orchestrator/internal/monitor"
	"github.com/yourorg/checkout-orchestrator/internal/sandbox"
	"github.com/yourorg/checkout-orchestrator/internal/telemetry"
)

const (
	demoInvoiceID = "demo-invoice"
	demoToken     = "demo-token"
)

var (
	configPath   = flag.String("config", "", "Path to configuration file")
	injectFaults = flag.Bool("inject-faults", false, "Enable chaos fault injection regardless of config")
	seedDemo     = flag.Bool("seed", true, "Seed a demo invoice")
	traceSpans   = flag.Bool("trace", false, "Print spans to stdout")
)

// setupRouter wires the sandbox backend and the metrics endpoint.
func setupRouter(cfg *config.Config, reg *prometheus.Registry, seed bool) (*gin.Engine, error) {
	rules, err := sandbox.NewRules(cfg.Sandbox.Rules)
	if err != nil {
		return nil, err
	}
	contracts, err := monitor.DefaultContracts()
	if err != nil {
		return nil, err
	}

	store := sandbox.NewStore(rules, nil)
	if seed {
		store.AddInvoice(sandbox.InvoiceTemplate{
			ID:          demoInvoiceID,
			Amount:      150000,
			Currency:    "RUB",
			Product:     "Demo order",
			AccessToken: demoToken,
		})
	}

	srv := sandbox.NewServer(store,
		sandbox.WithContracts(contracts),
		sandbox.WithChaos(sandbox.NewChaos(cfg.Sandbox.Chaos, time.Now().UnixNano())),
		sandbox.WithMetrics(metrics.NewMetrics(reg)),
	)
	router := srv.Router()
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	return router, nil
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *injectFaults {
		cfg.Sandbox.Chaos.Enabled = true
	}

	tc := telemetry.Config{ServiceName: "checkout-sandbox"}
	if *traceSpans {
		tc.Output = os.Stdout
	}
	shutdownTracing, err := telemetry.Setup(tc)
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	router, err := setupRouter(cfg, reg, *seedDemo)
	if err != nil {
		log.Fatalf("Failed to set up sandbox: %v", err)
	}
	if *seedDemo {
		log.Printf("Seeded invoice %s, access token %s", demoInvoiceID, demoToken)
	}

	httpServer := &http.Server{Addr: cfg.Sandbox.ListenAddr, Handler: router}
	go func() {
		log.Printf("Starting sandbox on %s (chaos: %v)", cfg.Sandbox.ListenAddr, cfg.Sandbox.Chaos.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to run server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Printf("Tracer shutdown: %v", err)
	}
}
