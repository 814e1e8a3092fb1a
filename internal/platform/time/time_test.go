package time

import (
	"testing"
	"time"
)

func TestPtr(t *testing.T) {
	if got := Ptr(time.Time{}); got != nil {
		t.Fatalf("Ptr(zero) = %v, want nil", got)
	}

	now := time.Now()
	got := Ptr(now)
	if got == nil || !got.Equal(now) {
		t.Fatalf("Ptr(now) = %v, want %v", got, now)
	}
}
