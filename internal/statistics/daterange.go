package statistics

import (
	"regexp"
	"time"
)

// DateRange is a resolved start/end pair in YYYY-MM-DD form. Either side
// may be empty when no constraint applies.
type DateRange struct {
	Start string
	End   string
}

const dateLayout = "2006-01-02"

// datePattern matches the YYYY-MM-DD dates the query builder accepts.
// Anything else is silently ignored rather than rejected.
var datePattern = regexp.MustCompile(`^[0-9]{4}-((0[1-9])|(1[0-2]))-((0[1-9])|([1-2][0-9])|(3[0-1]))$`)

// NormalizeDateRange resolves the requested window. For anything but
// month aggregation the inputs pass through untouched. For month
// aggregation the window is anchored so it spans at most 12 calendar
// months and never extends past the current month.
//
// All arithmetic happens on day 15 of the month to keep timezone drift at
// month boundaries from shifting a date into the neighboring month.
func NormalizeDateRange(start, end string, mode AggregationMode, today time.Time) DateRange {
	if mode != AggMonth {
		return DateRange{Start: start, End: end}
	}

	anchor := time.Date(today.Year(), today.Month(), 15, 0, 0, 0, 0, time.UTC)

	startDate, haveStart := anchorDay15(start)
	endDate, haveEnd := anchorDay15(end)

	switch {
	case !haveStart && !haveEnd:
		// Last 12 months ending with the current month.
		endDate = anchor
		startDate = endDate.AddDate(0, -11, 0)
	case !haveStart:
		startDate = endDate.AddDate(0, -11, 0)
	case !haveEnd:
		// Next 12 months from the start, capped at the current month.
		endDate = minDate(startDate.AddDate(0, 11, 0), anchor)
	default:
		// Whichever comes first: the requested end, start+11 months,
		// or the current month.
		endDate = minDate(endDate, startDate.AddDate(0, 11, 0), anchor)
	}

	return DateRange{
		Start: startDate.Format(dateLayout),
		End:   endDate.Format(dateLayout),
	}
}

// anchorDay15 parses a YYYY-MM-DD date and moves it to day 15 of its
// month. Unparseable input counts as not supplied.
func anchorDay15(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), 15, 0, 0, 0, 0, time.UTC), true
}

func minDate(dates ...time.Time) time.Time {
	min := dates[0]
	for _, d := range dates[1:] {
		if d.Before(min) {
			min = d
		}
	}
	return min
}

// timeBounds converts a resolved range into inclusive Solr timestamp
// bounds: the first second of the start month and the last second of the
// end month. ok is false when the start date is absent or malformed, in
// which case no time filter applies.
func timeBounds(rng DateRange, today time.Time) (start, end string, startMonth, endMonth time.Time, ok bool) {
	if !datePattern.MatchString(rng.Start) {
		return "", "", time.Time{}, time.Time{}, false
	}
	endStr := rng.End
	if !datePattern.MatchString(endStr) {
		endStr = today.Format(dateLayout)
	}

	s, _ := time.Parse(dateLayout, rng.Start)
	e, _ := time.Parse(dateLayout, endStr)

	// Statistics are tallied by whole months: snap the start to the first
	// day of its month and the end to the last day of its month.
	startMonth = time.Date(s.Year(), s.Month(), 1, 0, 0, 0, 0, time.UTC)
	endMonth = time.Date(e.Year(), e.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)

	start = startMonth.Format(dateLayout) + "T00:00:00Z"
	end = endMonth.Format(dateLayout) + "T23:59:59Z"
	return start, end, startMonth, endMonth, true
}

// MonthsPeriod lists every YYYY-MM between two dates, inclusive. An end
// month before the start month yields an empty period.
func MonthsPeriod(start, end time.Time) []string {
	months := monthsBetween(start, end)
	if months < 0 {
		return nil
	}
	period := make([]string, 0, months+1)
	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i <= months; i++ {
		period = append(period, cursor.Format("2006-01"))
		cursor = cursor.AddDate(0, 1, 0)
	}
	return period
}

func monthsBetween(start, end time.Time) int {
	return int(end.Month()) - int(start.Month()) + 12*(end.Year()-start.Year())
}
