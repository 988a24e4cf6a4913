package statistics

import (
	"testing"

	"github.com/dspace-analytics/statistics-api/internal/catalog"
)

func entityRows(uuids ...string) []catalog.EntityRow {
	rows := make([]catalog.EntityRow, len(uuids))
	for i, id := range uuids {
		rows[i] = catalog.EntityRow{UUID: id, Handle: "123/" + id, Title: "Title " + id}
	}
	return rows
}

func TestMergeAgainstEmptyBuckets(t *testing.T) {
	rows := entityRows("a", "b", "c")
	records := Merge(rows, metricResult{}, metricResult{}, AggNone)

	if len(records) != len(rows) {
		t.Fatalf("got %d records, want %d", len(records), len(rows))
	}
	for i, rec := range records {
		if rec.UUID != rows[i].UUID {
			t.Errorf("record %d out of order: %s", i, rec.UUID)
		}
		if rec.Views != 0 || rec.Downloads != 0 {
			t.Errorf("record %s: counts = %d/%d, want zero", rec.UUID, rec.Views, rec.Downloads)
		}
		if rec.Country != nil || rec.City != nil || rec.Month != nil {
			t.Errorf("record %s: expected empty breakdown", rec.UUID)
		}
	}
}

func TestMergeSingleViewsBucket(t *testing.T) {
	rows := entityRows("A")
	views := metricResult{"A": {Total: 42}}

	records := Merge(rows, views, metricResult{}, AggNone)
	if len(records) != 1 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].Views != 42 || records[0].Downloads != 0 {
		t.Errorf("got views=%d downloads=%d, want 42/0", records[0].Views, records[0].Downloads)
	}
}

func TestMergePreservesCatalogOrder(t *testing.T) {
	rows := entityRows("z", "a", "m")
	views := metricResult{
		"a": {Total: 100},
		"m": {Total: 7},
		"z": {Total: 1},
	}
	records := Merge(rows, views, metricResult{}, AggNone)
	for i, want := range []string{"z", "a", "m"} {
		if records[i].UUID != want {
			t.Errorf("record %d = %s, want %s (catalog order, not count order)", i, records[i].UUID, want)
		}
	}
}

func TestMergeConsumesEachBucketOnce(t *testing.T) {
	rows := entityRows("a", "a")
	views := metricResult{"a": {Total: 9}}

	records := Merge(rows, views, metricResult{}, AggNone)
	if records[0].Views != 9 {
		t.Errorf("first record views = %d, want 9", records[0].Views)
	}
	if records[1].Views != 0 {
		t.Errorf("second record views = %d, want 0 after partition", records[1].Views)
	}
}

func TestMergeCombinesBreakdownsViewsFirst(t *testing.T) {
	rows := entityRows("a")
	views := metricResult{"a": {
		Total: 10,
		Sub:   []subCount{{Key: "DE", Count: 6}, {Key: "FR", Count: 4}},
	}}
	downloads := metricResult{"a": {
		Total: 5,
		Sub:   []subCount{{Key: "FR", Count: 3}, {Key: "US", Count: 2}},
	}}

	records := Merge(rows, views, downloads, AggCountry)
	breakdown := records[0].Country
	if len(breakdown) != 3 {
		t.Fatalf("got %d breakdown entries, want 3", len(breakdown))
	}

	want := []KeyedCount{
		{CountryISO: "DE", Views: 6, Downloads: 0},
		{CountryISO: "FR", Views: 4, Downloads: 3},
		{CountryISO: "US", Views: 0, Downloads: 2},
	}
	for i, kc := range want {
		if breakdown[i] != kc {
			t.Errorf("entry %d = %+v, want %+v", i, breakdown[i], kc)
		}
	}
	if records[0].City != nil || records[0].Month != nil {
		t.Error("only the requested breakdown list should be populated")
	}
}

func TestMergeMonthBreakdown(t *testing.T) {
	rows := entityRows("a")
	views := metricResult{"a": {
		Total: 3,
		Sub:   []subCount{{Key: "2024-01", Count: 1}, {Key: "2024-02", Count: 2}},
	}}

	records := Merge(rows, views, metricResult{}, AggMonth)
	if len(records[0].Month) != 2 {
		t.Fatalf("got %d month entries", len(records[0].Month))
	}
	if records[0].Month[0].Month != "2024-01" || records[0].Month[0].Views != 1 {
		t.Errorf("first month entry = %+v", records[0].Month[0])
	}
}
