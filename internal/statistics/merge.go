package statistics

import "github.com/dspace-analytics/statistics-api/internal/catalog"

// StatisticsRecord is the per-entity result: catalog metadata joined with
// the usage counters, plus at most one breakdown list depending on the
// requested aggregation mode.
type StatisticsRecord struct {
	UUID      string `json:"uuid"`
	Handle    string `json:"handle"`
	Title     string `json:"title"`
	Views     int    `json:"views"`
	Downloads int    `json:"downloads"`

	Country []KeyedCount `json:"country,omitempty"`
	City    []KeyedCount `json:"city,omitempty"`
	Month   []KeyedCount `json:"month,omitempty"`
}

// KeyedCount is one breakdown bucket carrying views and downloads side by
// side. Exactly one key field is set, matching the list it appears in.
type KeyedCount struct {
	CountryISO string `json:"country_iso,omitempty"`
	CityName   string `json:"city_name,omitempty"`
	Month      string `json:"month,omitempty"`
	Views      int    `json:"views"`
	Downloads  int    `json:"downloads"`
}

// Merge joins catalog rows with the views and downloads results by entity
// id. Output order follows the catalog rows. An entity without analytics
// data still gets a record, with zero counts and an empty breakdown. Each
// analytics entry is consumed by at most one row.
func Merge(rows []catalog.EntityRow, views, downloads metricResult, mode AggregationMode) []StatisticsRecord {
	records := make([]StatisticsRecord, 0, len(rows))
	for _, row := range rows {
		rec := StatisticsRecord{
			UUID:   row.UUID,
			Handle: row.Handle,
			Title:  row.Title,
		}

		v := views[row.UUID]
		d := downloads[row.UUID]
		delete(views, row.UUID)
		delete(downloads, row.UUID)

		if v != nil {
			rec.Views = v.Total
		}
		if d != nil {
			rec.Downloads = d.Total
		}

		if mode != AggNone {
			breakdown := combineBreakdowns(v, d, mode)
			switch mode {
			case AggCountry:
				rec.Country = breakdown
			case AggCity:
				rec.City = breakdown
			case AggMonth:
				rec.Month = breakdown
			}
		}

		records = append(records, rec)
	}
	return records
}

// combineBreakdowns zips the per-key sub-counts of both metrics into one
// list. Keys follow the views ordering; keys seen only in downloads are
// appended after, in their own order. A key present in one metric only
// carries zero for the other.
func combineBreakdowns(v, d *entityStat, mode AggregationMode) []KeyedCount {
	var out []KeyedCount
	index := make(map[string]int)

	if v != nil {
		for _, sc := range v.Sub {
			index[sc.Key] = len(out)
			out = append(out, newKeyedCount(mode, sc.Key, sc.Count, 0))
		}
	}
	if d != nil {
		for _, sc := range d.Sub {
			if i, ok := index[sc.Key]; ok {
				out[i].Downloads = sc.Count
				continue
			}
			index[sc.Key] = len(out)
			out = append(out, newKeyedCount(mode, sc.Key, 0, sc.Count))
		}
	}
	return out
}

func newKeyedCount(mode AggregationMode, key string, views, downloads int) KeyedCount {
	kc := KeyedCount{Views: views, Downloads: downloads}
	switch mode {
	case AggCountry:
		kc.CountryISO = key
	case AggCity:
		kc.CityName = key
	case AggMonth:
		kc.Month = key
	}
	return kc
}
