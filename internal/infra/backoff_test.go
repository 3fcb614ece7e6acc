package infra

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second},  // capped
		{100, 60 * time.Second}, // still capped
	}

	for _, tt := range tests {
		if got := CalculateBackoff(tt.retryCount); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %s, want %s", tt.retryCount, got, tt.want)
		}
	}
}

func TestBackoff_CustomSchedule(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}

	if got := b.Delay(2); got != 40*time.Millisecond {
		t.Errorf("Delay(2) = %s, want 40ms", got)
	}
	if got := b.Delay(3); got != 50*time.Millisecond {
		t.Errorf("Delay(3) = %s, want 50ms", got)
	}
}
