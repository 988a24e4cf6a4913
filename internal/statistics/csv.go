package statistics

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// csvChunkSize bounds how many entities a CSV export processes per
// analytics round-trip.
const csvChunkSize = 100

// csvSerializer streams statistics records as CSV rows. The column set is
// fixed at construction: the five base columns, widened by one downloads
// and one views column per month when a month period is given.
type csvSerializer struct {
	w          io.Writer
	handleBase string
	months     []string
}

func newCSVSerializer(w io.Writer, handleBase string, months []string) *csvSerializer {
	return &csvSerializer{
		w:          w,
		handleBase: strings.TrimRight(handleBase, "/"),
		months:     months,
	}
}

func (s *csvSerializer) writeHeader() error {
	columns := []string{"UUID", "Title", "Handle", "Total downloads", "Total views"}
	for _, month := range s.months {
		columns = append(columns, "Downloads "+month)
	}
	for _, month := range s.months {
		columns = append(columns, "Views "+month)
	}
	_, err := io.WriteString(s.w, strings.Join(columns, ",")+"\n")
	return err
}

// writeRecords emits one row per record. Months absent from a record's
// breakdown produce 0, never a blank column.
func (s *csvSerializer) writeRecords(records []StatisticsRecord) error {
	for _, rec := range records {
		byMonth := make(map[string]KeyedCount, len(rec.Month))
		for _, kc := range rec.Month {
			byMonth[kc.Month] = kc
		}

		fields := []string{
			rec.UUID,
			escapeCSVTitle(rec.Title),
			s.handleBase + "/" + rec.Handle,
			strconv.Itoa(rec.Downloads),
			strconv.Itoa(rec.Views),
		}
		for _, month := range s.months {
			fields = append(fields, strconv.Itoa(byMonth[month].Downloads))
		}
		for _, month := range s.months {
			fields = append(fields, strconv.Itoa(byMonth[month].Views))
		}

		if _, err := fmt.Fprintln(s.w, strings.Join(fields, ",")); err != nil {
			return err
		}
	}
	return nil
}

// escapeCSVTitle wraps the title in quotes unconditionally and doubles any
// embedded quotes. Titles are the only field that can contain arbitrary
// text; other columns are identifiers and numbers.
func escapeCSVTitle(title string) string {
	return `"` + strings.ReplaceAll(title, `"`, `""`) + `"`
}
