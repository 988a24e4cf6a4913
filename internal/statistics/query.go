package statistics

import (
	"fmt"
	"strings"
	"time"

	"github.com/dspace-analytics/statistics-api/internal/solr"
)

// Metric distinguishes the two usage counters.
type Metric string

const (
	MetricViews     Metric = "views"
	MetricDownloads Metric = "downloads"
)

// statQuery is a fully-built analytics query for one metric: the Solr
// select body plus everything the strategies need to execute and
// post-process it.
type statQuery struct {
	metric Metric
	// key is the Solr field attributing hits to entities of the
	// requested kind (id, owningItem, owningColl, owningComm).
	key  string
	base *solr.SelectQuery
	mode AggregationMode

	// Resolved time window; zero values when no valid start date was
	// given.
	timeStart  string
	timeEnd    string
	startMonth time.Time
	endMonth   time.Time
	hasWindow  bool

	// period holds the expected YYYY-MM buckets for month mode so
	// months without activity still appear with a zero count.
	period []string
}

// buildStatQuery constructs the views or downloads query for a set of
// entity ids. Views count item page hits (type:2); downloads count
// bitstream hits restricted to the primary content bundle (type:0,
// bundleName:ORIGINAL). Both exclude bots.
func buildStatQuery(metric Metric, key string, uuids []string, rng DateRange, mode AggregationMode, today time.Time) *statQuery {
	q := &statQuery{
		metric: metric,
		key:    key,
		mode:   mode,
	}

	base := &solr.SelectQuery{
		Limit: 0,
	}
	switch metric {
	case MetricDownloads:
		base.Query = "type:0"
		base.Filter = []string{"-isBot:true", "statistics_type:view", "bundleName:ORIGINAL"}
	default:
		base.Query = "type:2"
		base.Filter = []string{"-isBot:true", "statistics_type:view"}
	}

	base.Filter = append(base.Filter, idFilter(key, uuids))

	idFacet := map[string]any{
		"type":     "terms",
		"mincount": 1,
		"limit":    1000,
		"field":    key,
	}
	base.Facet = map[string]any{"id": idFacet}

	switch mode {
	case AggCountry:
		idFacet["facet"] = map[string]any{
			"country": map[string]any{
				"type":     "terms",
				"mincount": 1,
				"limit":    1000,
				"field":    "countryCode",
			},
		}
	case AggCity:
		idFacet["facet"] = map[string]any{
			"city": map[string]any{
				"type":     "terms",
				"mincount": 1,
				"limit":    1000,
				"field":    "city",
			},
		}
	}

	if start, end, startMonth, endMonth, ok := timeBounds(rng, today); ok {
		q.timeStart, q.timeEnd = start, end
		q.startMonth, q.endMonth = startMonth, endMonth
		q.hasWindow = true
		base.Filter = append(base.Filter, fmt.Sprintf("time:[%s TO %s]", start, end))

		if mode == AggMonth {
			idFacet["facet"] = map[string]any{
				"month": map[string]any{
					"type":  "range",
					"field": "time",
					"start": start,
					"end":   end,
					"gap":   "+1MONTH",
				},
			}
			q.period = MonthsPeriod(startMonth, endMonth)
		}
	}

	q.base = base
	return q
}

// idFilter ORs the entity ids over the attribution key:
// (key:id1 OR key:id2 OR ...).
func idFilter(key string, uuids []string) string {
	clauses := make([]string, len(uuids))
	for i, id := range uuids {
		clauses[i] = fmt.Sprintf("%s:%s", key, id)
	}
	return "(" + strings.Join(clauses, " OR ") + ")"
}

// monthQuery derives the sub-query for a single YYYY-MM month of the
// window: same filters, id facet only, time filter narrowed to that month.
// Used by the strategies that cannot express a per-id range facet in one
// request.
func (q *statQuery) monthQuery(month string) *solr.SelectQuery {
	first, _ := time.Parse("2006-01", month)
	last := first.AddDate(0, 1, -1)

	sub := q.base.Clone()
	// Drop the whole-window time filter, keep everything else.
	filters := sub.Filter[:0]
	for _, f := range sub.Filter {
		if !strings.HasPrefix(f, "time:[") {
			filters = append(filters, f)
		}
	}
	sub.Filter = append(filters, fmt.Sprintf(
		"time:[%sT00:00:00Z TO %sT23:59:59Z]",
		first.Format(dateLayout), last.Format(dateLayout),
	))
	sub.Facet = map[string]any{
		"id": map[string]any{
			"type":     "terms",
			"mincount": 1,
			"limit":    1000,
			"field":    q.key,
		},
	}
	return sub
}
