package mathx_test

import (
	"math"
	"testing"

	"github.com/nasa-jpl/pecam/mathx"
)

func TestRound(t *testing.T) {
	cases := []struct {
		in, unit, out float64
	}{
		{1.234, 0.01, 1.23},
		{1.236, 0.01, 1.24},
		{-1.236, 0.01, -1.24},
		{12.5, 1, 13},
		{0, 0.01, 0},
	}
	for _, c := range cases {
		if got := mathx.Round(c.in, c.unit); math.Abs(got-c.out) > 1e-9 {
			t.Errorf("Round(%v, %v) = %v, expected %v", c.in, c.unit, got, c.out)
		}
	}
}
