package reporting

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
)

// Entry statuses.
const (
	StatusSuccess    = "SUCCESS"
	StatusFailure    = "FAILURE"
	StatusRetry      = "RETRY"
	StatusCancelled  = "CANCELLED"
	StatusNavigation = "NAVIGATION"
)

// LogEntry is a single event of a checkout scenario.
type LogEntry struct {
	Timestamp    time.Time
	ScenarioID   string
	InvoiceID    string
	Status       string // one of the Status constants
	Amount       int64  // minor units
	Currency     string
	Method       string // payment method in use, if any
	Route        string // destination, for NAVIGATION entries
	ErrorCode    string // PaymentError code, for FAILURE entries
	ErrorMessage string
}

// Journal collects the entries of one or more scenarios. It is safe for
// concurrent use.
type Journal struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewJournal creates an empty Journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Record appends e. A nil Journal discards it.
func (j *Journal) Record(e LogEntry) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

// Entries returns a copy of the recorded entries.
func (j *Journal) Entries() []LogEntry {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]LogEntry, len(j.entries))
	copy(out, j.entries)
	return out
}

// RetrospectiveReport summarizes checkout activity from journal entries.
type RetrospectiveReport struct {
	TotalEntries       int
	SuccessfulPayments int
	FailedAttempts     int
	RetriedAttempts    int // retry prompts the user accepted
	CancelledScenarios int
	Navigations        int
	AmountPaid         map[string]int64 // by currency, SUCCESS entries only
	ErrorBreakdown     map[string]int   // by error code, FAILURE entries only
	MethodUsage        map[string]int   // SUCCESS and FAILURE entries with a method
	RouteBreakdown     map[string]int   // NAVIGATION entries by route
	DateFrom           time.Time
	DateTo             time.Time
	Duration           time.Duration
}

// RetrospectiveReporter generates retrospective reports from journal entries.
type RetrospectiveReporter struct{}

// NewRetrospectiveReporter creates a new RetrospectiveReporter.
func NewRetrospectiveReporter() *RetrospectiveReporter {
	return &RetrospectiveReporter{}
}

// GenerateRetrospective analyzes entries and produces a RetrospectiveReport.
// Entries with an unknown status are rejected.
func (rr *RetrospectiveReporter) GenerateRetrospective(entries []LogEntry) (*RetrospectiveReport, error) {
	report := &RetrospectiveReport{
		AmountPaid:     make(map[string]int64),
		ErrorBreakdown: make(map[string]int),
		MethodUsage:    make(map[string]int),
		RouteBreakdown: make(map[string]int),
	}

	for i, e := range entries {
		report.TotalEntries++
		if i == 0 || e.Timestamp.Before(report.DateFrom) {
			report.DateFrom = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(report.DateTo) {
			report.DateTo = e.Timestamp
		}

		switch e.Status {
		case StatusSuccess:
			report.SuccessfulPayments++
			report.AmountPaid[e.Currency] += e.Amount
		case StatusFailure:
			report.FailedAttempts++
			if e.ErrorCode != "" {
				report.ErrorBreakdown[e.ErrorCode]++
			}
		case StatusRetry:
			report.RetriedAttempts++
		case StatusCancelled:
			report.CancelledScenarios++
		case StatusNavigation:
			report.Navigations++
			report.RouteBreakdown[e.Route]++
		default:
			return nil, fmt.Errorf("reporting: entry %d has unknown status %q", i, e.Status)
		}

		if e.Method != "" && (e.Status == StatusSuccess || e.Status == StatusFailure) {
			report.MethodUsage[e.Method]++
		}
	}
	report.Duration = report.DateTo.Sub(report.DateFrom)
	return report, nil
}

// Format renders the report as the text printed at the end of a CLI session.
func (r *RetrospectiveReport) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "entries: %d over %s\n", r.TotalEntries, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "payments: %d succeeded, %d failed, %d retries, %d cancelled\n",
		r.SuccessfulPayments, r.FailedAttempts, r.RetriedAttempts, r.CancelledScenarios)
	for _, currency := range sortedKeys(r.AmountPaid) {
		fmt.Fprintf(&b, "paid: %s\n", checkout.FormatAmount(r.AmountPaid[currency], currency))
	}
	for _, code := range sortedKeys(r.ErrorBreakdown) {
		fmt.Fprintf(&b, "error %s: %d\n", code, r.ErrorBreakdown[code])
	}
	for _, route := range sortedKeys(r.RouteBreakdown) {
		fmt.Fprintf(&b, "route %s: %d\n", route, r.RouteBreakdown[route])
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
