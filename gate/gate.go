// Package gate enforces the per-source upstream discipline: at most one
// in-flight fetch per source, minimum spacing between fetches,
// exponential backoff after failures, and a circuit breaker that fails
// fast after repeated failures.
//
// The breaker is an explicit Closed/Open/Half-Open state machine driven
// by release outcomes, with an injectable clock so tests run without
// real delays. While a circuit is open, Acquire returns ErrCircuitOpen
// without any network attempt; after the cooldown exactly one probe
// permit is issued, and its outcome decides between closing and
// reopening.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/taxomat/taxomat/metrics"
)

// ErrCircuitOpen signals that a source is in cooldown and was skipped
// without a network attempt. Callers fall back to cache or local data.
var ErrCircuitOpen = errors.New("gate: circuit open")

// ErrBusy signals that a fail-fast caller found the source occupied or
// paced into the future.
var ErrBusy = errors.New("gate: source busy")

// State is the circuit breaker state of one source.
type State int

const (
	// Closed lets requests through and counts consecutive failures.
	Closed State = iota
	// HalfOpen allows exactly one probe after the cooldown.
	HalfOpen
	// Open fails every acquire fast until the cooldown elapses.
	Open
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome classifies how a permitted fetch ended.
type Outcome int

const (
	// OutcomeSuccess is a completed fetch with a usable result.
	OutcomeSuccess Outcome = iota
	// OutcomeNotFound is a definitive no-match. A responding source is a
	// healthy source, so this counts as success for the breaker.
	OutcomeNotFound
	// OutcomeTransient is a network, timeout, or server failure.
	OutcomeTransient
	// OutcomeRateLimited is an explicit throttling signal. It defers the
	// next fetch but never increments the failure counter.
	OutcomeRateLimited
	// OutcomeFatal is a non-retryable failure (auth, bad request).
	OutcomeFatal
)

// String returns the snake_case outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeTransient:
		return "transient"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Config tunes the gate.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// Cooldown is how long an open circuit rejects before allowing a
	// probe.
	Cooldown time.Duration

	// MinInterval spaces successive fetches against one source.
	MinInterval time.Duration

	// BackoffBase, BackoffMultiplier and MaxBackoff shape the
	// exponential backoff applied after transient failures.
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		Cooldown:          60 * time.Second,
		MinInterval:       time.Second,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Gate coordinates upstream access for all sources.
type Gate struct {
	cfg    Config
	clock  Clock
	logger *slog.Logger

	mu      sync.Mutex
	sources map[string]*sourceState
}

// sourceState carries the per-source breaker and pacing state. The
// capacity-1 semaphore serializes fetches; waiters queue on the channel
// in arrival order.
type sourceState struct {
	sem chan struct{}

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	nextAllowed time.Time
	lastSuccess time.Time
	lastFailure time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the time source.
func WithClock(clock Clock) Option {
	return func(g *Gate) {
		g.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New creates a Gate with the given configuration.
func New(cfg Config, opts ...Option) *Gate {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = DefaultConfig().BackoffMultiplier
	}
	g := &Gate{
		cfg:     cfg,
		clock:   RealClock(),
		logger:  slog.Default(),
		sources: make(map[string]*sourceState),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) source(name string) *sourceState {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.sources[name]
	if !ok {
		st = &sourceState{sem: make(chan struct{}, 1)}
		g.sources[name] = st
	}
	return st
}

// Permit grants one upstream fetch. Callers must Release exactly once.
type Permit struct {
	gate     *Gate
	source   string
	st       *sourceState
	released bool
}

// Acquire obtains the fetch permit for a source. With wait=true the
// caller queues behind the in-flight fetch and any pacing delay (batch
// mode); with wait=false it fails fast with ErrBusy instead (interactive
// mode). An open circuit fails fast in both modes.
func (g *Gate) Acquire(ctx context.Context, source string, wait bool) (*Permit, error) {
	st := g.source(source)

	// Fast pre-check so fail-fast callers don't queue behind a doomed
	// semaphore slot.
	if err := g.checkBreaker(st, source, false); err != nil {
		return nil, err
	}

	if wait {
		select {
		case st.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		select {
		case st.sem <- struct{}{}:
		default:
			return nil, ErrBusy
		}
	}

	// Re-check under the slot: the breaker may have opened while queued,
	// and only the slot holder may claim the half-open probe.
	if err := g.checkBreaker(st, source, true); err != nil {
		<-st.sem
		return nil, err
	}

	if err := g.pace(ctx, st, wait); err != nil {
		<-st.sem
		return nil, err
	}

	return &Permit{gate: g, source: source, st: st}, nil
}

// checkBreaker applies the state machine on the acquire path. When
// claimProbe is set and the cooldown has elapsed, the caller becomes the
// single half-open probe.
func (g *Gate) checkBreaker(st *sourceState, source string, claimProbe bool) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.state {
	case Closed, HalfOpen:
		return nil
	case Open:
		if g.clock.Now().Sub(st.openedAt) < g.cfg.Cooldown {
			return ErrCircuitOpen
		}
		if !claimProbe {
			return nil
		}
		st.state = HalfOpen
		g.setBreakerGauge(source, HalfOpen)
		g.logger.Info("Circuit half-open, probing", "source", source)
		return nil
	}
	return nil
}

// pace blocks until the source's next-allowed time. Fail-fast callers
// get ErrBusy instead of waiting.
func (g *Gate) pace(ctx context.Context, st *sourceState, wait bool) error {
	st.mu.Lock()
	delay := st.nextAllowed.Sub(g.clock.Now())
	st.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	if !wait {
		return ErrBusy
	}

	select {
	case <-g.clock.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release reports the fetch outcome and frees the permit. retryAfter
// carries an upstream-signaled delay (zero when none); it overrides the
// computed backoff.
func (p *Permit) Release(outcome Outcome, retryAfter time.Duration) {
	if p == nil || p.released {
		return
	}
	p.released = true
	p.gate.release(p.st, p.source, outcome, retryAfter)
	<-p.st.sem
}

func (g *Gate) release(st *sourceState, source string, outcome Outcome, retryAfter time.Duration) {
	now := g.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	switch outcome {
	case OutcomeSuccess, OutcomeNotFound:
		st.lastSuccess = now
		st.failures = 0
		if st.state != Closed {
			g.logger.Info("Circuit closed", "source", source)
		}
		st.state = Closed
		st.nextAllowed = now.Add(g.cfg.MinInterval)

	case OutcomeRateLimited:
		// Honor the signaled delay without counting a breaker strike.
		delay := retryAfter
		if delay <= 0 {
			delay = g.backoff(1)
		}
		st.nextAllowed = now.Add(delay)
		g.logger.Warn("Source rate limited", "source", source, "delay", delay)

	case OutcomeTransient, OutcomeFatal:
		st.lastFailure = now
		st.failures++

		if st.state == HalfOpen {
			// Failed probe: reopen for a fresh cooldown.
			st.state = Open
			st.openedAt = now
			g.logger.Warn("Probe failed, circuit reopened", "source", source, "failures", st.failures)
		} else if st.failures >= g.cfg.FailureThreshold {
			st.state = Open
			st.openedAt = now
			g.logger.Warn("Circuit opened", "source", source, "failures", st.failures)
		}

		delay := retryAfter
		if delay <= 0 {
			delay = g.backoff(st.failures)
		}
		st.nextAllowed = now.Add(delay)
	}

	g.setBreakerGauge(source, st.state)
}

// backoff computes the exponential delay for the nth consecutive failure
// with +/- 25% jitter to avoid synchronized retries.
func (g *Gate) backoff(failures int) time.Duration {
	if g.cfg.BackoffBase <= 0 {
		return 0
	}
	multiplier := 1.0
	for i := 1; i < failures; i++ {
		multiplier *= g.cfg.BackoffMultiplier
	}

	backoff := time.Duration(float64(g.cfg.BackoffBase) * multiplier)
	if g.cfg.MaxBackoff > 0 && backoff > g.cfg.MaxBackoff {
		backoff = g.cfg.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

func (g *Gate) setBreakerGauge(source string, state State) {
	var v float64
	switch state {
	case HalfOpen:
		v = 1
	case Open:
		v = 2
	}
	metrics.BreakerState.WithLabelValues(source).Set(v)
}

// SourceStatus is a point-in-time snapshot of one source's gate state.
type SourceStatus struct {
	Source      string    `json:"source"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	OpenedAt    time.Time `json:"opened_at,omitempty"`
	NextAllowed time.Time `json:"next_allowed,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Status returns the snapshot for one source.
func (g *Gate) Status(source string) SourceStatus {
	st := g.source(source)

	st.mu.Lock()
	defer st.mu.Unlock()
	return SourceStatus{
		Source:      source,
		State:       st.state.String(),
		Failures:    st.failures,
		OpenedAt:    st.openedAt,
		NextAllowed: st.nextAllowed,
		LastSuccess: st.lastSuccess,
		LastFailure: st.lastFailure,
	}
}

// Statuses returns snapshots for all sources seen so far, in name order.
func (g *Gate) Statuses() []SourceStatus {
	g.mu.Lock()
	names := make([]string, 0, len(g.sources))
	for name := range g.sources {
		names = append(names, name)
	}
	g.mu.Unlock()
	sort.Strings(names)

	out := make([]SourceStatus, 0, len(names))
	for _, name := range names {
		out = append(out, g.Status(name))
	}
	return out
}
