// Package scanner runs external malware scanners against quarantined
// files and normalizes their heterogeneous outputs into a common
// Verdict.
package scanner

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState represents the state of a scanner circuit breaker.
type BreakerState int32

const (
	// BreakerClosed invokes scanners normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen skips scanner invocation entirely and fails fast.
	BreakerOpen
	// BreakerHalfOpen allows one trial invocation through to probe
	// whether the scanner has recovered.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards repeated invocations of an external scanner
// binary: once it has failed or crashed often enough in a row, the
// breaker opens and further quarantined files are rejected immediately
// instead of each paying the full scan timeout in turn. This is
// deliberately a secondary safety net for a flaky scanner process — a
// single file that exhausts its own retries and times out trips an
// orchestrator shutdown on its own, independent of this breaker's
// threshold (see pipeline.processItem).
type CircuitBreaker struct {
	state           atomic.Int32
	consecutiveFail atomic.Int32
	trialSuccesses  atomic.Int32
	openedAt        atomic.Int64 // Unix nano

	failThreshold int           // consecutive failures before opening
	cooldown      time.Duration // time before a trial invocation is allowed
	closeAfter    int           // trial successes needed to fully close
	mu            sync.Mutex    // guards state transitions
}

// ErrCircuitOpen is returned by Execute when the breaker is open and
// the call was rejected without running the underlying function.
var ErrCircuitOpen = errors.New("scanner circuit breaker is open")

// NewCircuitBreaker creates a breaker with the given settings.
// failThreshold: consecutive scanner failures before the breaker opens.
// cooldown: how long to wait before allowing a trial invocation.
// closeAfter: consecutive trial successes needed to fully close again.
func NewCircuitBreaker(failThreshold int, cooldown time.Duration, closeAfter int) *CircuitBreaker {
	if failThreshold <= 0 {
		failThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if closeAfter <= 0 {
		closeAfter = 3
	}

	cb := &CircuitBreaker{
		failThreshold: failThreshold,
		cooldown:      cooldown,
		closeAfter:    closeAfter,
	}
	cb.state.Store(int32(BreakerClosed))
	return cb
}

// Execute invokes fn if the breaker allows it, recording the outcome
// against the breaker's state. Returns ErrCircuitOpen without calling
// fn at all when the breaker is open and the cooldown has not elapsed.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.record(err)
	return err
}

// allow reports whether a call should be let through in the current state.
func (cb *CircuitBreaker) allow() bool {
	switch BreakerState(cb.state.Load()) {
	case BreakerClosed:
		return true

	case BreakerOpen:
		openedAt := time.Unix(0, cb.openedAt.Load())
		if time.Since(openedAt) < cb.cooldown {
			return false
		}
		cb.mu.Lock()
		if BreakerState(cb.state.Load()) == BreakerOpen {
			cb.state.Store(int32(BreakerHalfOpen))
			cb.trialSuccesses.Store(0)
		}
		cb.mu.Unlock()
		return true

	case BreakerHalfOpen:
		return true

	default:
		return false
	}
}

// record updates breaker state based on one call's outcome.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := BreakerState(cb.state.Load())

	if err != nil {
		cb.openedAt.Store(time.Now().UnixNano())

		switch state {
		case BreakerClosed:
			fails := cb.consecutiveFail.Add(1)
			if int(fails) >= cb.failThreshold {
				cb.state.Store(int32(BreakerOpen))
				cb.consecutiveFail.Store(0)
			}

		case BreakerHalfOpen:
			// A failed trial invocation reopens the breaker.
			cb.state.Store(int32(BreakerOpen))
			cb.trialSuccesses.Store(0)
		}
		return
	}

	switch state {
	case BreakerClosed:
		cb.consecutiveFail.Store(0)

	case BreakerHalfOpen:
		successes := cb.trialSuccesses.Add(1)
		if int(successes) >= cb.closeAfter {
			cb.state.Store(int32(BreakerClosed))
			cb.consecutiveFail.Store(0)
			cb.trialSuccesses.Store(0)
		}
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(cb.state.Load())
}

// Reset forces the breaker back to closed, discarding any recorded
// failures or trial successes.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state.Store(int32(BreakerClosed))
	cb.consecutiveFail.Store(0)
	cb.trialSuccesses.Store(0)
}

// ConsecutiveFailures returns the current consecutive-failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	return int(cb.consecutiveFail.Load())
}
