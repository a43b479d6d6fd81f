// Package util contains misc internal utilities.
package util

import (
	"strings"
	"time"
)

// AllElementsNumbers returns true if every character of str is a digit or a
// decimal point
func AllElementsNumbers(str string) bool {
	if str == "" {
		return false
	}
	for _, c := range str {
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}
	return true
}

// ParseDuration parses anything time.ParseDuration accepts, and bare numbers
// as seconds
func ParseDuration(str string) (time.Duration, error) {
	str = strings.TrimSpace(str)
	if AllElementsNumbers(str) {
		str = str + "s"
	}
	return time.ParseDuration(str)
}
