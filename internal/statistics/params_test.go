package statistics

import (
	"math"
	"testing"
)

func TestNormalizeLimit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"-5", 5},
		{"0", 100},
		{"500", 100},
		{"NaN", 100},
		{"", 100},
		{"frog", 100},
		{"25", 25},
		{"100", 100},
		{"1", 1},
		{"2.9", 2},
		{"1e300", 100},
		{"-1e300", 100},
	}
	for _, tt := range tests {
		if got := NormalizeLimit(tt.raw); got != tt.want {
			t.Errorf("NormalizeLimit(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"0", 1},
		{"-3", 1},
		{"7", 7},
		{"", 1},
		{"two", 1},
		{"NaN", 1},
		{"1e300", math.MaxInt32},
	}
	for _, tt := range tests {
		if got := NormalizePage(tt.raw); got != tt.want {
			t.Errorf("NormalizePage(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeAggregation(t *testing.T) {
	tests := []struct {
		raw  string
		want AggregationMode
	}{
		{"country", AggCountry},
		{"city", AggCity},
		{"month", AggMonth},
		{"frog", AggNone},
		{"", AggNone},
		{"Country", AggNone},
	}
	for _, tt := range tests {
		if got := NormalizeAggregation(tt.raw); got != tt.want {
			t.Errorf("NormalizeAggregation(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
