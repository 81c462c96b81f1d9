package util

import (
	"math"
	"testing"
)

func TestRoundToIncrement(t *testing.T) {
	tests := []struct {
		name      string
		x         float64
		increment float64
		want      float64
	}{
		{"exact multiple", 580, 5, 580},
		{"round down", 581.9, 5, 580},
		{"round up", 583.1, 5, 585},
		{"half away from zero", 582.5, 5, 585},
		{"half away from zero negative", -582.5, 5, -585},
		{"dollar increment", 582.4, 1, 582},
		{"dollar increment half", 582.5, 1, 583},
		{"zero increment passthrough", 582.37, 0, 582.37},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundToIncrement(tt.x, tt.increment)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RoundToIncrement(%v, %v) = %v, want %v", tt.x, tt.increment, got, tt.want)
			}
		})
	}
}

func TestFloorCeilToTick(t *testing.T) {
	if got := FloorToTick(1.237, 0.01); math.Abs(got-1.23) > 1e-9 {
		t.Errorf("FloorToTick = %v, want 1.23", got)
	}
	if got := CeilToTick(1.231, 0.01); math.Abs(got-1.24) > 1e-9 {
		t.Errorf("CeilToTick = %v, want 1.24", got)
	}
	if got := FloorToTick(1.23, 0); got != 1.23 {
		t.Errorf("FloorToTick with zero tick should pass through, got %v", got)
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(0.5, 0, 0.35); got != 0.35 {
		t.Errorf("Clamp above hi = %v, want 0.35", got)
	}
	if got := Clamp(-0.1, 0, 0.35); got != 0 {
		t.Errorf("Clamp below lo = %v, want 0", got)
	}
	if got := Clamp(0.2, 0, 0.35); got != 0.2 {
		t.Errorf("Clamp inside = %v, want 0.2", got)
	}
}
