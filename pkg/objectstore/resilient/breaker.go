package resilient

import (
	"errors"
	"sync"
	"time"

	"github.com/juju/clock"
)

// State is the circuit breaker state
type State int

const (
	// StateClosed lets every call through
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout elapses
	StateOpen
	// StateHalfOpen lets a single probe through to test recovery
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the store while the breaker is open
var ErrCircuitOpen = errors.New("object store circuit breaker is open")

// Breaker counts consecutive store failures and opens after maxFailures of them.
// After resetTimeout one probe call is allowed; its outcome closes or reopens the circuit.
type Breaker struct {
	maxFailures  int
	resetTimeout time.Duration
	clock        clock.Clock
	onChange     func(from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker. A nil clock uses the wall clock.
func NewBreaker(maxFailures int, resetTimeout time.Duration, clk clock.Clock) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Breaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		clock:        clk,
		state:        StateClosed,
	}
}

// OnStateChange registers fn to run, under the breaker lock, on every transition.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Allow reports whether a call may proceed. A true result must be followed by Record.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) < b.resetTimeout {
			return false
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return true
	case StateHalfOpen:
		// one probe at a time
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// Record feeds the outcome of an allowed call back into the breaker.
func (b *Breaker) Record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if failed {
			b.open()
			return
		}
		b.failures = 0
		b.transition(StateClosed)
		return
	}

	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.maxFailures {
		b.open()
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the circuit and clears the failure count
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.transition(StateClosed)
}

func (b *Breaker) open() {
	b.openedAt = b.clock.Now()
	b.failures = 0
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
