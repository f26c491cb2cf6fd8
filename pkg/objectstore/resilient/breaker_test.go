package resilient

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute, testclock.NewClock(epoch))

	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("call %d rejected before threshold", i)
		}
		b.Record(true)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed below threshold, got %s", b.State())
	}

	b.Allow()
	b.Record(true)
	if b.State() != StateOpen {
		t.Fatalf("expected open at threshold, got %s", b.State())
	}
	if b.Allow() {
		t.Fatal("expected open breaker to reject calls")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(2, time.Minute, testclock.NewClock(epoch))

	b.Allow()
	b.Record(true)
	b.Allow()
	b.Record(false)
	if b.Failures() != 0 {
		t.Fatalf("expected failures reset, got %d", b.Failures())
	}
	b.Allow()
	b.Record(true)
	if b.State() != StateClosed {
		t.Fatalf("non-consecutive failures must not open the circuit, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	clk := testclock.NewClock(epoch)
	b := NewBreaker(1, 30*time.Second, clk)

	b.Allow()
	b.Record(true)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	clk.Advance(29 * time.Second)
	if b.Allow() {
		t.Fatal("expected rejection before the reset timeout")
	}

	clk.Advance(time.Second)
	if !b.Allow() {
		t.Fatal("expected a probe after the reset timeout")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if b.Allow() {
		t.Fatal("expected a single probe in half-open")
	}

	b.Record(false)
	if b.State() != StateClosed {
		t.Fatalf("expected successful probe to close the circuit, got %s", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	clk := testclock.NewClock(epoch)
	b := NewBreaker(1, 10*time.Second, clk)

	b.Allow()
	b.Record(true)
	clk.Advance(10 * time.Second)
	b.Allow()
	b.Record(true)

	if b.State() != StateOpen {
		t.Fatalf("expected reopened circuit, got %s", b.State())
	}
	if b.Allow() {
		t.Fatal("reopened circuit must wait a full reset timeout")
	}
}

func TestBreaker_StateChangeCallbackAndReset(t *testing.T) {
	b := NewBreaker(1, time.Minute, testclock.NewClock(epoch))
	var transitions []string
	b.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	b.Allow()
	b.Record(true)
	b.Reset()

	want := []string{"closed->open", "open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, transitions)
		}
	}
	if !b.Allow() {
		t.Fatal("expected reset breaker to allow calls")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
