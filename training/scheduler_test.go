package training

import (
	"math"
	"testing"
)

func TestPlateauSchedulerDecaysAfterPatience(t *testing.T) {
	sched, err := NewPlateauScheduler(0.5, 2, 1e-4, 1e-6)
	if err != nil {
		t.Fatalf("NewPlateauScheduler failed: %v", err)
	}

	lr := 0.01
	lr = sched.Step(1.0, lr) // baseline
	if lr != 0.01 {
		t.Errorf("lr after baseline = %g, want 0.01", lr)
	}

	lr = sched.Step(1.0, lr) // wait 1
	if lr != 0.01 {
		t.Errorf("lr after first stall = %g, want 0.01", lr)
	}

	lr = sched.Step(1.0, lr) // wait 2 -> decay
	if math.Abs(lr-0.005) > 1e-12 {
		t.Errorf("lr after patience exhausted = %g, want 0.005", lr)
	}
}

func TestPlateauSchedulerImprovementResetsWait(t *testing.T) {
	sched, err := NewPlateauScheduler(0.5, 2, 1e-4, 1e-6)
	if err != nil {
		t.Fatalf("NewPlateauScheduler failed: %v", err)
	}

	lr := 0.01
	lr = sched.Step(1.0, lr)
	lr = sched.Step(1.0, lr) // wait 1
	lr = sched.Step(0.5, lr) // improvement, wait resets
	lr = sched.Step(0.5, lr) // wait 1
	if lr != 0.01 {
		t.Errorf("lr = %g, want 0.01 after wait reset", lr)
	}
	lr = sched.Step(0.5, lr) // wait 2 -> decay
	if math.Abs(lr-0.005) > 1e-12 {
		t.Errorf("lr = %g, want 0.005", lr)
	}
}

func TestPlateauSchedulerThreshold(t *testing.T) {
	sched, err := NewPlateauScheduler(0.5, 1, 0.1, 1e-6)
	if err != nil {
		t.Fatalf("NewPlateauScheduler failed: %v", err)
	}

	lr := 0.01
	lr = sched.Step(1.0, lr)
	// 0.95 is within the 0.1 threshold of 1.0, so it is not an improvement
	// and patience 1 triggers an immediate decay.
	lr = sched.Step(0.95, lr)
	if math.Abs(lr-0.005) > 1e-12 {
		t.Errorf("lr = %g, want 0.005 for sub-threshold improvement", lr)
	}
}

func TestPlateauSchedulerFloor(t *testing.T) {
	sched, err := NewPlateauScheduler(0.1, 1, 0, 1e-3)
	if err != nil {
		t.Fatalf("NewPlateauScheduler failed: %v", err)
	}

	lr := 0.01
	lr = sched.Step(1.0, lr)
	for i := 0; i < 5; i++ {
		lr = sched.Step(1.0, lr)
	}
	if lr != 1e-3 {
		t.Errorf("lr = %g, want floor 1e-3", lr)
	}
}

func TestPlateauSchedulerReset(t *testing.T) {
	sched, err := NewPlateauScheduler(0.5, 1, 0, 1e-6)
	if err != nil {
		t.Fatalf("NewPlateauScheduler failed: %v", err)
	}

	lr := sched.Step(0.5, 0.01)
	sched.Reset()
	// After reset any finite loss is an improvement over the baseline.
	lr = sched.Step(100.0, lr)
	if lr != 0.01 {
		t.Errorf("lr after reset = %g, want 0.01", lr)
	}
}

func TestPlateauSchedulerInvalidConfig(t *testing.T) {
	tests := []struct {
		name             string
		factor           float64
		patience         int
		threshold, minLR float64
	}{
		{"factor zero", 0, 2, 0, 0},
		{"factor one", 1, 2, 0, 0},
		{"zero patience", 0.5, 0, 0, 0},
		{"negative threshold", 0.5, 2, -1, 0},
		{"negative floor", 0.5, 2, 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPlateauScheduler(tt.factor, tt.patience, tt.threshold, tt.minLR); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
