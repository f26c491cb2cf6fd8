package resilient

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: the breaker opens after exactly maxFailures consecutive failures and lets one probe
// through once resetTimeout has elapsed.
func TestProperty_BreakerStateMachine(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	genTimeout := gen.IntRange(1, 600).Map(func(s int) time.Duration {
		return time.Duration(s) * time.Second
	})

	properties.Property("opens exactly at the threshold", prop.ForAll(
		func(maxFailures int, resetTimeout time.Duration) bool {
			b := NewBreaker(maxFailures, resetTimeout, testclock.NewClock(epoch))
			for i := 0; i < maxFailures; i++ {
				if b.State() != StateClosed || !b.Allow() {
					return false
				}
				b.Record(true)
			}
			return b.State() == StateOpen && !b.Allow()
		},
		gen.IntRange(1, 10),
		genTimeout,
	))

	properties.Property("allows one probe after the reset timeout", prop.ForAll(
		func(maxFailures int, resetTimeout time.Duration) bool {
			clk := testclock.NewClock(epoch)
			b := NewBreaker(maxFailures, resetTimeout, clk)
			for i := 0; i < maxFailures; i++ {
				b.Allow()
				b.Record(true)
			}
			clk.Advance(resetTimeout - time.Nanosecond)
			if b.Allow() {
				return false
			}
			clk.Advance(time.Nanosecond)
			return b.Allow() && b.State() == StateHalfOpen && !b.Allow()
		},
		gen.IntRange(1, 10),
		genTimeout,
	))

	properties.TestingRun(t)
}
