package service

import (
	"math"
	"time"

	"gantry/internal/platform/parse"
)

// ComputeNextTry implements the scheduler's backoff formula.
//
// The exponential branch computes step^retries (step's length in seconds
// raised to the power of the retry count), not the more familiar
// step*2^(retries-1). This is a known quirk carried over from the reference
// behavior rather than corrected: changing it would change retry timing for
// every existing deployment, so it is preserved and documented here instead.
func ComputeNextTry(previous time.Time, retries int, b parse.Backoff) time.Time {
	var delta time.Duration
	switch b.Mode {
	case parse.BackoffExponential:
		seconds := math.Pow(b.Step.Seconds(), float64(retries))
		delta = time.Duration(seconds * float64(time.Second))
	default:
		delta = b.Step
	}
	if delta > b.Max {
		delta = b.Max
	}
	if delta < 0 {
		delta = b.Max
	}
	return previous.Add(delta)
}
