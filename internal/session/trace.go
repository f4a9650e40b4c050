package session

import (
	"github.com/google/uuid"
)

// TraceContext carries the identifiers that tie log lines and spans of one
// scenario together.
type TraceContext struct {
	ScenarioID string            // Unique per scenario instance
	SpanID     string            // Current step identifier
	Baggage    map[string]string // Optional correlation data
}

// NewTraceContext creates a TraceContext with a fresh ScenarioID and SpanID.
func NewTraceContext() TraceContext {
	return TraceContext{
		ScenarioID: uuid.NewString(),
		SpanID:     uuid.NewString(),
		Baggage:    make(map[string]string),
	}
}

// NewSpan generates a new SpanID for the next step of the same scenario.
func (tc *TraceContext) NewSpan() string {
	tc.SpanID = uuid.NewString()
	return tc.SpanID
}
