package tokenest

import (
	"strings"
	"testing"

	"github.com/lhwzds/agentcore/internal/chatmsg"
)

func TestEstimateMonotonicInContentLength(t *testing.T) {
	e := NewEstimator()
	short := []chatmsg.Message{{Role: chatmsg.RoleUser, Content: "hi"}}
	long := []chatmsg.Message{{Role: chatmsg.RoleUser, Content: strings.Repeat("hi", 1000)}}
	if e.Estimate(short) >= e.Estimate(long) {
		t.Fatalf("expected estimate to grow with content length")
	}
}

func TestEstimateMonotonicInCalibrationFactor(t *testing.T) {
	msgs := []chatmsg.Message{{Role: chatmsg.RoleUser, Content: strings.Repeat("x", 400)}}

	low := NewEstimator()
	low.factor = 0.5
	high := NewEstimator()
	high.factor = 2.0

	if low.Estimate(msgs) >= high.Estimate(msgs) {
		t.Fatalf("expected higher calibration factor to produce a higher estimate")
	}
}

func TestCalibrateIgnoresZeroInputs(t *testing.T) {
	e := NewEstimator()
	before := e.Factor()
	e.Calibrate(0, 500)
	e.Calibrate(500, 0)
	if e.Factor() != before {
		t.Fatalf("expected factor unchanged after zero-input calibration, got %v", e.Factor())
	}
}

func TestCalibrateUsesFastAlphaForFirstFiveSamples(t *testing.T) {
	e := NewEstimator()
	for i := 0; i < 5; i++ {
		e.Calibrate(100, 200) // ratio 2.0 every time
	}
	// After 5 samples at alpha=0.5 converging toward 2.0, factor should be
	// close to 2.0 already (fast convergence).
	if f := e.Factor(); f < 1.9 {
		t.Fatalf("expected fast convergence toward ratio 2.0 within 5 samples, got %v", f)
	}
}

func TestCooldownSaturatesAtZero(t *testing.T) {
	e := NewEstimator()
	e.SetCooldown(-5)
	if !e.CompactAllowed() {
		t.Fatalf("expected cooldown to clamp to 0 and allow compaction")
	}
	e.TickCooldown()
	if !e.CompactAllowed() {
		t.Fatalf("expected ticking an already-zero cooldown to stay at 0")
	}
}

func TestCooldownTicksDownToZero(t *testing.T) {
	e := NewEstimator()
	e.SetCooldown(2)
	if e.CompactAllowed() {
		t.Fatalf("expected compaction blocked while cooldown > 0")
	}
	e.TickCooldown()
	if e.CompactAllowed() {
		t.Fatalf("expected compaction still blocked after one tick")
	}
	e.TickCooldown()
	if !e.CompactAllowed() {
		t.Fatalf("expected compaction allowed once cooldown reaches 0")
	}
}
