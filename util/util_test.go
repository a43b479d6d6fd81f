package util_test

import (
	"testing"
	"time"

	"github.com/nasa-jpl/pecam/util"
)

func TestAllElementsNumbers(t *testing.T) {
	cases := map[string]bool{
		"123":  true,
		"0.25": true,
		"25ms": false,
		"":     false,
		"-1":   false,
	}
	for in, want := range cases {
		if got := util.AllElementsNumbers(in); got != want {
			t.Errorf("AllElementsNumbers(%q) = %v, expected %v", in, got, want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"0.2":   200 * time.Millisecond,
		"25ms":  25 * time.Millisecond,
		" 10us": 10 * time.Microsecond,
		"2":     2 * time.Second,
	}
	for in, want := range cases {
		got, err := util.ParseDuration(in)
		if err != nil {
			t.Errorf("ParseDuration(%q) returned error %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseDuration(%q) = %v, expected %v", in, got, want)
		}
	}
	if _, err := util.ParseDuration("fast"); err == nil {
		t.Error("expected an error parsing \"fast\"")
	}
}
