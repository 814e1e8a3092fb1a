package service

import (
	"testing"
	"time"

	"gantry/internal/platform/parse"
)

func TestComputeNextTry_LinearAddsStepCappedAtMax(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := parse.Backoff{Mode: parse.BackoffLinear, Step: 10 * time.Second, Max: time.Minute}

	got := ComputeNextTry(now, 1, b)
	if want := now.Add(10 * time.Second); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestComputeNextTry_ExponentialUsesStepToThePowerOfRetries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := parse.Backoff{Mode: parse.BackoffExponential, Step: 2 * time.Second, Max: time.Hour}

	got := ComputeNextTry(now, 3, b)
	want := now.Add(8 * time.Second) // 2^3
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestComputeNextTry_ExponentialCapsAtMax(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := parse.Backoff{Mode: parse.BackoffExponential, Step: 10 * time.Second, Max: 30 * time.Second}

	got := ComputeNextTry(now, 5, b)
	if want := now.Add(30 * time.Second); !got.Equal(want) {
		t.Fatalf("expected capped delay %v, got %v", want, got)
	}
}
