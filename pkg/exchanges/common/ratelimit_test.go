package common

import (
	"testing"
	"time"
)

func TestUpdateFromHeaderTracksRemainingBudget(t *testing.T) {
	rl := NewRateLimiter(120, 5*time.Second)

	used, limit, pct := rl.GetUsage()
	if used != 0 || limit != 120 || pct != 0 {
		t.Fatalf("fresh limiter usage = %d/%d (%.1f%%), want 0/120 (0%%)", used, limit, pct)
	}

	rl.UpdateFromHeader("30")
	used, _, pct = rl.GetUsage()
	if used != 90 {
		t.Errorf("used = %d, want 90", used)
	}
	if !rl.ShouldDelay() {
		t.Errorf("ShouldDelay() = false at %.1f%%, want true at or above 90%%", pct)
	}

	rl.UpdateFromHeader("100")
	if rl.ShouldDelay() {
		t.Error("ShouldDelay() = true with most of the budget left")
	}
}

func TestUpdateFromHeaderIgnoresGarbage(t *testing.T) {
	rl := NewRateLimiter(120, 5*time.Second)
	rl.UpdateFromHeader("")
	rl.UpdateFromHeader("not-a-number")

	if used, _, _ := rl.GetUsage(); used != 0 {
		t.Errorf("used = %d after bad headers, want 0", used)
	}
}

func TestGetUsageResetsAfterWindow(t *testing.T) {
	rl := NewRateLimiter(120, 10*time.Millisecond)
	rl.UpdateFromHeader("0")

	if used, _, _ := rl.GetUsage(); used != 120 {
		t.Fatalf("used = %d, want 120", used)
	}
	time.Sleep(20 * time.Millisecond)
	if used, _, _ := rl.GetUsage(); used != 0 {
		t.Errorf("used = %d after window rollover, want 0", used)
	}
}

func TestTimeSyncOffset(t *testing.T) {
	const skew = int64(1500)
	ts := NewTimeSync(func() (int64, error) {
		return time.Now().UnixMilli() + skew, nil
	})
	if err := ts.Sync(t.Context()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	off := ts.Offset()
	if off < skew-100 || off > skew+100 {
		t.Errorf("offset = %dms, want about %dms", off, skew)
	}
	adjusted := ts.Now() - time.Now().UnixMilli()
	if adjusted < skew-100 || adjusted > skew+100 {
		t.Errorf("Now() adjustment = %dms, want about %dms", adjusted, skew)
	}
}
