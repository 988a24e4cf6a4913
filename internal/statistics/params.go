package statistics

import (
	"math"
	"strconv"
)

// AggregationMode selects the disaggregation dimension for a statistics
// request. Exactly one mode is active per request.
type AggregationMode string

const (
	AggNone    AggregationMode = ""
	AggCountry AggregationMode = "country"
	AggCity    AggregationMode = "city"
	AggMonth   AggregationMode = "month"
)

const (
	defaultLimit = 100
	maxLimit     = 100
)

// NormalizeAggregation accepts exactly "country", "city" and "month";
// anything else, including the empty string, means no disaggregation.
func NormalizeAggregation(raw string) AggregationMode {
	switch raw {
	case "country":
		return AggCountry
	case "city":
		return AggCity
	case "month":
		return AggMonth
	default:
		return AggNone
	}
}

// NormalizeLimit clamps the page size to [1,100]. Negative values are
// folded to their absolute value; non-numeric input and zero fall back to
// the default of 100. Malformed input never produces an error.
func NormalizeLimit(raw string) int {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		v = 0
	}
	// Clamp before converting; float-to-int conversion of an
	// out-of-range value is implementation-defined.
	v = math.Abs(v)
	if v > maxLimit {
		return maxLimit
	}
	limit := int(v)
	if limit <= 0 {
		limit = defaultLimit
	}
	return limit
}

// NormalizePage coerces the page number to a positive integer, defaulting
// to the first page. Values beyond the int32 range clamp to that ceiling
// so the conversion cannot overflow into a negative offset.
func NormalizePage(raw string) int {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || v < 1 {
		return 1
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}
