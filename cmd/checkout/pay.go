package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/yourorg/checkout-orchestrator/internal/config"
	"github.com/yourorg/checkout-orchestrator/internal/metrics"
	"github.com/yourorg/checkout-orchestrator/internal/policy"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
	"github.com/yourorg/checkout-orchestrator/internal/remote/httpapi"
	"github.com/yourorg/checkout-orchestrator/internal/reporting"
	"github.com/yourorg/checkout-orchestrator/internal/scenario"
	"github.com/yourorg/checkout-orchestrator/internal/selection"
	"github.com/yourorg/checkout-orchestrator/internal/session"
	"github.com/yourorg/checkout-orchestrator/internal/telemetry"
)

type payOptions struct {
	configPath  string
	baseURL     string
	invoiceID   string
	token       string
	card        remote.CardData
	email       string
	auto3DS     bool
	assumeYes   bool
	trace       bool
	verbose     bool
	metricsAddr string
}

func newPayCmd() *cobra.Command {
	opts := &payOptions{}
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Pay an invoice",
		Example: `  checkout pay --invoice demo-invoice --token demo-token
  checkout pay --invoice demo-invoice --token demo-token --card 4000000000003220 --exp 12/30 --cvv 123 --auto-3ds`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runPay(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	f.StringVar(&opts.baseURL, "base-url", "", "Processing API base URL, overrides api.base_url")
	f.StringVar(&opts.invoiceID, "invoice", "", "Invoice to pay")
	f.StringVar(&opts.token, "token", "", "Invoice access token")
	f.StringVar(&opts.card.Number, "card", "", "Card number; prompted when empty")
	f.StringVar(&opts.card.ExpDate, "exp", "", "Card expiry as MM/YY")
	f.StringVar(&opts.card.CVV, "cvv", "", "Card verification value")
	f.StringVar(&opts.card.CardholderName, "holder", "", "Cardholder name")
	f.StringVar(&opts.email, "email", "", "Payer email for the receipt; prompted when empty")
	f.BoolVar(&opts.auto3DS, "auto-3ds", false, "Complete 3-D Secure challenges without asking")
	f.BoolVarP(&opts.assumeYes, "yes", "y", false, "Retry failed requests without asking")
	f.BoolVar(&opts.trace, "trace", false, "Print spans to stderr")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log component activity to stderr")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while paying")
	_ = cmd.MarkFlagRequired("invoice")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

// runPay drives one scenario to its end and prints the session summary.
func runPay(ctx context.Context, opts *payOptions, in io.Reader, out, errOut io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.baseURL != "" {
		cfg.API.BaseURL = opts.baseURL
	}

	host, err := cfg.Host.Session()
	if err != nil {
		return err
	}
	sess, err := session.NewSession(opts.invoiceID, opts.token, host)
	if err != nil {
		return err
	}

	logger := log.New(io.Discard, "", 0)
	if opts.verbose {
		logger = log.New(errOut, "", log.LstdFlags)
	}
	pol, err := policy.NewPolicy(cfg.PolicyRules(), logger)
	if err != nil {
		return err
	}

	tc := telemetry.Config{ServiceName: "checkout-cli", Synchronous: true}
	if opts.trace {
		tc.Output = errOut
	}
	shutdown, err := telemetry.Setup(tc)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Printf("Checkout: telemetry shutdown: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	if opts.metricsAddr != "" {
		stopMetrics := serveMetrics(opts.metricsAddr, reg, logger)
		defer stopMetrics()
	}

	term := newTerminal(in, out, terminalOptions{
		Card:       opts.card,
		Email:      opts.email,
		Auto3DS:    opts.auto3DS,
		AssumeYes:  opts.assumeYes,
		HTTPClient: &http.Client{Timeout: cfg.API.Timeout},
	})
	journal := reporting.NewJournal()
	api := httpapi.NewClient(cfg.API.BaseURL, &http.Client{Timeout: cfg.API.Timeout})
	s := scenario.New(sess, scenario.Dependencies{
		API:       api,
		Presenter: term,
		Delegate:  term,
		Prompter:  term,
		Device:    selection.NewStaticDevice(selection.CapabilityUnavailable),
	}, scenario.Options{
		Policy:         pol,
		Journal:        journal,
		Metrics:        metrics.NewMetrics(reg),
		Logger:         logger,
		MaxAttempts:    cfg.Retry.MaxAttempts,
		FirstPollDelay: cfg.Engine.FirstPollDelay,
		PollInterval:   cfg.Engine.PollInterval,
	})

	runErr := term.drive(ctx, s)

	report, err := reporting.NewRetrospectiveReporter().GenerateRetrospective(journal.Entries())
	if err != nil {
		return errors.Join(runErr, err)
	}
	fmt.Fprintf(out, "\nSession summary\n%s", report.Format())
	return runErr
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *log.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("Checkout: metrics server: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
