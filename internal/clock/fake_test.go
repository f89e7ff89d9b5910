package clock

import (
	"testing"
	"time"
)

func TestFakeClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	clk := NewFakeClock(start)

	if got := clk.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	clk.Advance(90 * time.Minute)
	if got := clk.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("Now() after Advance = %v", got)
	}

	pinned := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	clk.Set(pinned)
	if got := clk.Now(); !got.Equal(pinned) {
		t.Fatalf("Now() after Set = %v, want %v", got, pinned)
	}
}
