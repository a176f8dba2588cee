package runner

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestNewPacedClockRejectsInvalidRates(t *testing.T) {
	for _, r := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := NewPacedClock(r); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("NewPacedClock(%v) error = %v, want ErrInvalidConfiguration", r, err)
		}
	}
}

func TestPacedClockFirstSlotImmediate(t *testing.T) {
	c, err := NewPacedClock(1)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := c.Next(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("first slot took %v", elapsed)
	}
}

func TestPacedClockHoldsRate(t *testing.T) {
	c, err := NewPacedClock(100)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := c.Next(ctx); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)
	// 50 slots at 100/s: the first is immediate, the rest 10ms apart.
	if elapsed < 400*time.Millisecond || elapsed > 1500*time.Millisecond {
		t.Fatalf("50 slots at 100/s took %v", elapsed)
	}
	if actual := c.ActualRate(); actual < 50 || actual > 150 {
		t.Fatalf("ActualRate = %.1f, want about 100", actual)
	}
}

func TestPacedClockBehindScheduleDoesNotBurst(t *testing.T) {
	now := time.Unix(1000, 0)
	c, err := NewPacedClock(10)
	if err != nil {
		t.Fatal(err)
	}
	c.now = func() time.Time { return now }
	c.Reset()

	ctx := context.Background()
	if err := c.Next(ctx); err != nil {
		t.Fatal(err)
	}
	// Fall a full second behind: one immediate slot, then back on schedule.
	now = now.Add(time.Second)
	if ok, err := c.NextWithin(ctx, 0); !ok || err != nil {
		t.Fatalf("late slot = %v, %v; want immediate", ok, err)
	}
	if ok, err := c.NextWithin(ctx, 0); ok || err != nil {
		t.Fatalf("second slot = %v, %v; want not due", ok, err)
	}
}

func TestPacedClockNextWithinLeavesSlot(t *testing.T) {
	c, err := NewPacedClock(1)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := c.Next(ctx); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	ok, err := c.NextWithin(ctx, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("slot one second away was taken within 20ms")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("NextWithin returned after %v, want about 20ms", elapsed)
	}

	c.mu.Lock()
	issued := c.issued
	c.mu.Unlock()
	if issued != 1 {
		t.Fatalf("issued = %d, want 1", issued)
	}
}

func TestPacedClockSetRate(t *testing.T) {
	c, err := NewPacedClock(1)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := c.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.SetRate(100); err != nil {
		t.Fatal(err)
	}
	if c.Rate() != 100 {
		t.Fatalf("Rate = %v", c.Rate())
	}

	start := time.Now()
	if err := c.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("slot after SetRate(100) took %v", elapsed)
	}

	if err := c.SetRate(0); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("SetRate(0) error = %v", err)
	}
	if c.Rate() != 100 {
		t.Fatalf("rejected SetRate changed rate to %v", c.Rate())
	}
}

func TestPacedClockReset(t *testing.T) {
	c, err := NewPacedClock(1)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := c.Next(ctx); err != nil {
		t.Fatal(err)
	}
	c.Reset()

	start := time.Now()
	if err := c.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("slot after Reset took %v", elapsed)
	}
}

func TestPacedClockCancellation(t *testing.T) {
	c, err := NewPacedClock(0.5)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Next(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = c.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancelled wait took %v", elapsed)
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if err := c.Next(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next on cancelled ctx = %v", err)
	}
}
