// Package retry implements the prompted retry policy shared by every remote
// step of the checkout. Each failed attempt is handed to a Stream, which
// decides whether the user may be asked to try again. Server-domain
// rejections are never retried, and after MaxAttempts consecutive failures
// the error is surfaced without asking.
package retry

import (
	"context"
	"log"
	"sync"

	"github.com/yourorg/checkout-orchestrator/internal/metrics"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
)

const DefaultMaxAttempts = 5

// Prompter asks the user whether a failed step should be attempted again.
type Prompter interface {
	PromptRetry(ctx context.Context, err error) bool
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, err error) bool

func (f PrompterFunc) PromptRetry(ctx context.Context, err error) bool {
	return f(ctx, err)
}

// Decision is the verdict of a Stream on one failed attempt.
type Decision int

const (
	// Raise surfaces the error to the caller.
	Raise Decision = iota
	// Retry attempts the step again.
	Retry
)

// Policy creates Streams sharing a prompter and an attempt cap.
type Policy struct {
	prompter    Prompter
	maxAttempts int
	metrics     *metrics.Metrics
	logger      *log.Logger
}

// Option configures a Policy.
type Option func(*Policy)

func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Policy) { p.metrics = m }
}

// WithLogger sets the logger. Nil keeps the default.
func WithLogger(l *log.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPolicy creates a Policy. It panics if prompter is nil.
func NewPolicy(prompter Prompter, opts ...Option) *Policy {
	if prompter == nil {
		panic("retry: prompter cannot be nil")
	}
	p := &Policy{prompter: prompter, maxAttempts: DefaultMaxAttempts, logger: log.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Stream counts the consecutive failures of one repeated step, e.g. the
// event polls of an engine phase.
type Stream struct {
	policy *Policy
	name   string

	mu                  sync.Mutex
	consecutiveFailures int
}

// NewStream starts a fresh failure count for the step called name.
func (p *Policy) NewStream(name string) *Stream {
	return &Stream{policy: p, name: name}
}

// Decide consumes one failed attempt. The prompter is consulted at most
// once per call.
func (s *Stream) Decide(ctx context.Context, err error) Decision {
	if err == nil {
		return Retry
	}
	if ctx.Err() != nil {
		return Raise
	}
	if remote.IsServerError(err) {
		s.policy.metrics.ObserveSurfaced(s.name, "server_error")
		return Raise
	}

	s.mu.Lock()
	s.consecutiveFailures++
	failures := s.consecutiveFailures
	s.mu.Unlock()

	if failures > s.policy.maxAttempts {
		s.policy.logger.Printf("Retry: %s failed %d times in a row, giving up: %v", s.name, failures, err)
		s.policy.metrics.ObserveSurfaced(s.name, "attempts_exhausted")
		return Raise
	}

	answer := s.policy.prompter.PromptRetry(ctx, err)
	s.policy.metrics.ObservePrompt(s.name, answer)
	if !answer {
		return Raise
	}
	s.policy.logger.Printf("Retry: retrying %s after failure %d/%d: %v", s.name, failures, s.policy.maxAttempts, err)
	return Retry
}

// RecordSuccess resets the consecutive failure count.
func (s *Stream) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
}

// Failures returns the current consecutive failure count.
func (s *Stream) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

// Do runs fn until it succeeds or the stream raises its error. The returned
// error is the last one fn produced.
func Do[T any](ctx context.Context, s *Stream, fn func(ctx context.Context) (T, error)) (T, error) {
	for {
		v, err := fn(ctx)
		if err == nil {
			s.RecordSuccess()
			return v, nil
		}
		if s.Decide(ctx, err) == Raise {
			var zero T
			return zero, err
		}
	}
}
