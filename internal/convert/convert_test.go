package convert

import (
	"math"
	"testing"
)

const eps = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= eps*math.Max(1, math.Abs(b))
}

func TestCToF(t *testing.T) {
	tests := []struct {
		c, want float64
	}{
		{c: 0, want: 32},
		{c: 100, want: 212},
		{c: -40, want: -40},
		{c: 22, want: 71.6},
		{c: 37.5, want: 99.5},
	}
	for _, tt := range tests {
		if got := CToF(tt.c); !almostEqual(got, tt.want) {
			t.Errorf("CToF(%v) = %v, want %v", tt.c, got, tt.want)
		}
	}
}

func TestCToF_MatchesFormula(t *testing.T) {
	for c := -60.0; c <= 60.0; c += 0.25 {
		if got, want := CToF(c), c*9/5+32; got != want {
			t.Fatalf("CToF(%v) = %v, want %v", c, got, want)
		}
	}
}

func TestDewPointF(t *testing.T) {
	tests := []struct {
		name            string
		tempF, rh, want float64
	}{
		{name: "saturated air equals temperature", tempF: 68, rh: 100, want: 68},
		{name: "bone dry", tempF: 68, rh: 0, want: 32},
		{name: "typical", tempF: 71.6, rh: 45, want: 51.8},
		{name: "freezing", tempF: 20, rh: 80, want: 12.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DewPointF(tt.tempF, tt.rh); !almostEqual(got, tt.want) {
				t.Errorf("DewPointF(%v, %v) = %v, want %v", tt.tempF, tt.rh, got, tt.want)
			}
		})
	}
}

func TestMbToInHg(t *testing.T) {
	if got := MbToInHg(33.8639); got != 1 {
		t.Errorf("MbToInHg(33.8639) = %v, want 1", got)
	}
	if got, want := MbToInHg(1013.25), 1013.25/33.8639; got != want {
		t.Errorf("MbToInHg(1013.25) = %v, want %v", got, want)
	}
}

func TestPaToMb(t *testing.T) {
	if got := PaToMb(101325); got != 1013.25 {
		t.Errorf("PaToMb(101325) = %v, want 1013.25", got)
	}
}
