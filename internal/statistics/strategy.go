package statistics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/dspace-analytics/statistics-api/internal/solr"
	"github.com/dspace-analytics/statistics-api/pkg/config"
	"github.com/dspace-analytics/statistics-api/pkg/metrics"
)

// solrSearcher is the slice of the Solr client the strategies need.
type solrSearcher interface {
	Select(ctx context.Context, core string, query *solr.SelectQuery) (*solr.SelectResponse, error)
	SelectLegacy(ctx context.Context, core string, query *solr.SelectQuery) (*solr.SelectResponse, error)
}

// entityStat is one metric's counts for a single entity: the total plus
// the per-country, per-city or per-month breakdown when requested.
type entityStat struct {
	Total int
	Sub   []subCount
}

type subCount struct {
	Key   string
	Count int
}

// metricResult maps entity uuid to its counts.
type metricResult map[string]*entityStat

// queryStrategy executes a built statistics query against Solr. The three
// implementations cover the protocol generations DSpace installations run:
// nested JSON facets, legacy flat facet.pivot parameters, and sharded
// cores where range facets cannot be trusted across shards.
type queryStrategy interface {
	run(ctx context.Context, q *statQuery) (metricResult, error)
}

// newStrategy selects the strategy for the configured protocol. Unknown
// values are rejected at startup rather than at query time.
func newStrategy(cfg config.SolrConfig, client solrSearcher, m *metrics.Metrics) (queryStrategy, error) {
	base := strategyBase{
		client:      client,
		core:        cfg.StatisticsCore,
		policy:      cfg.RetryPolicy,
		retryStatus: cfg.RetryStatus,
		maxRetries:  cfg.MaxRetries,
		metrics:     m,
		logger:      slog.Default().With("component", "solr-strategy"),
	}
	switch cfg.Protocol {
	case "", "json":
		return &jsonStrategy{strategyBase: base}, nil
	case "legacy":
		return &legacyStrategy{strategyBase: base}, nil
	case "sharded":
		return &shardedStrategy{strategyBase: base}, nil
	default:
		return nil, fmt.Errorf("unknown solr protocol %q", cfg.Protocol)
	}
}

type strategyBase struct {
	client      solrSearcher
	core        string
	policy      config.RetryPolicy
	retryStatus int
	maxRetries  int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// jsonStrategy sends a single request whose JSON facet tree carries both
// the per-entity totals and the nested breakdown, including a range facet
// for month mode.
type jsonStrategy struct {
	strategyBase
}

func (s *jsonStrategy) run(ctx context.Context, q *statQuery) (metricResult, error) {
	resp, err := s.client.Select(ctx, s.core, q.base)
	if err != nil {
		return nil, err
	}
	facets, err := decodeIDFacets(resp)
	if err != nil {
		return nil, err
	}

	result := make(metricResult)
	for _, bucket := range facets.Buckets {
		st := &entityStat{Total: bucket.Count}
		if sub := bucket.Sub(string(q.mode)); sub != nil {
			for _, sb := range sub.Buckets {
				st.Sub = append(st.Sub, subCount{Key: subKey(q.mode, sb.Val), Count: sb.Count})
			}
		}
		if q.mode == AggMonth {
			st.Sub = fillMonths(st.Sub, q.period)
		}
		result[bucket.Val] = st
	}
	return result, nil
}

// shardedStrategy uses JSON facets like jsonStrategy, but the shards
// parameter fans the query out over every statistics core. Range facets
// are unreliable across shards, so month mode runs one narrowed query per
// month instead.
type shardedStrategy struct {
	strategyBase
}

func (s *shardedStrategy) run(ctx context.Context, q *statQuery) (metricResult, error) {
	if q.mode != AggMonth || !q.hasWindow {
		js := &jsonStrategy{strategyBase: s.strategyBase}
		return js.run(ctx, q)
	}

	totals, err := s.client.Select(ctx, s.core, totalsQuery(q))
	if err != nil {
		return nil, err
	}
	facets, err := decodeIDFacets(totals)
	if err != nil {
		return nil, err
	}

	result := make(metricResult)
	for _, bucket := range facets.Buckets {
		result[bucket.Val] = &entityStat{Total: bucket.Count}
	}

	months := s.runMonthFanOut(ctx, q, func(ctx context.Context, sub *solr.SelectQuery) (map[string]int, error) {
		resp, err := s.client.Select(ctx, s.core, sub)
		if err != nil {
			return nil, err
		}
		f, err := decodeIDFacets(resp)
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int, len(f.Buckets))
		for _, b := range f.Buckets {
			counts[b.Val] = b.Count
		}
		return counts, nil
	})

	assembleMonths(result, q.period, months)
	return result, nil
}

// legacyStrategy speaks the flat parameter protocol of old Solr versions:
// facet.pivot for the breakdown, no JSON request body at all. Month mode
// fans out per month like the sharded strategy.
type legacyStrategy struct {
	strategyBase
}

func (s *legacyStrategy) run(ctx context.Context, q *statQuery) (metricResult, error) {
	if q.mode == AggMonth && q.hasWindow {
		return s.runMonth(ctx, q)
	}

	pivot := q.key
	switch q.mode {
	case AggCountry:
		pivot = q.key + ",countryCode"
	case AggCity:
		pivot = q.key + ",city"
	}

	resp, err := s.client.SelectLegacy(ctx, s.core, legacyQuery(q.base, pivot))
	if err != nil {
		return nil, err
	}
	entries := pivotEntries(resp, pivot)

	result := make(metricResult)
	for _, entry := range entries {
		st := &entityStat{Total: entry.Count}
		for _, sub := range entry.Pivot {
			st.Sub = append(st.Sub, subCount{Key: sub.Value, Count: sub.Count})
		}
		result[entry.Value] = st
	}
	return result, nil
}

func (s *legacyStrategy) runMonth(ctx context.Context, q *statQuery) (metricResult, error) {
	resp, err := s.client.SelectLegacy(ctx, s.core, legacyQuery(totalsQuery(q), q.key))
	if err != nil {
		return nil, err
	}

	result := make(metricResult)
	for _, entry := range pivotEntries(resp, q.key) {
		result[entry.Value] = &entityStat{Total: entry.Count}
	}

	months := s.runMonthFanOut(ctx, q, func(ctx context.Context, sub *solr.SelectQuery) (map[string]int, error) {
		resp, err := s.client.SelectLegacy(ctx, s.core, legacyQuery(sub, q.key))
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int)
		for _, entry := range pivotEntries(resp, q.key) {
			counts[entry.Value] = entry.Count
		}
		return counts, nil
	})

	assembleMonths(result, q.period, months)
	return result, nil
}

// legacyQuery rewrites a JSON-protocol query into flat facet parameters.
func legacyQuery(base *solr.SelectQuery, pivot string) *solr.SelectQuery {
	q := base.Clone()
	q.Facet = nil
	if q.Extra == nil {
		q.Extra = url.Values{}
	}
	q.Extra.Set("facet", "true")
	q.Extra.Set("facet.pivot", pivot)
	q.Extra.Set("facet.pivot.mincount", "1")
	q.Extra.Set("facet.limit", "1000")
	return q
}

func pivotEntries(resp *solr.SelectResponse, pivot string) []solr.PivotEntry {
	if resp.FacetCounts == nil {
		return nil
	}
	return resp.FacetCounts.FacetPivot[pivot]
}

// monthTask pairs a YYYY-MM month with the sub-query covering it.
type monthTask struct {
	month string
	query *solr.SelectQuery
}

// runMonthFanOut executes one sub-query per month of the window. Failed
// months are collected and resubmitted in passes over only the failed
// subset, at most maxRetries extra passes, gated by the retry policy. A
// month that exhausts its attempts contributes zero and is logged; it
// never fails the whole request.
func (b *strategyBase) runMonthFanOut(ctx context.Context, q *statQuery, exec func(context.Context, *solr.SelectQuery) (map[string]int, error)) map[string]map[string]int {
	results := make(map[string]map[string]int, len(q.period))
	pending := make([]monthTask, 0, len(q.period))
	for _, month := range q.period {
		pending = append(pending, monthTask{month: month, query: q.monthQuery(month)})
	}

	for pass := 0; len(pending) > 0; pass++ {
		var failed []monthTask
		for _, task := range pending {
			counts, err := exec(ctx, task.query)
			if err == nil {
				results[task.month] = counts
				if pass > 0 && b.metrics != nil {
					b.metrics.SolrRetriesTotal.WithLabelValues("recovered").Inc()
				}
				continue
			}
			if pass < b.maxRetries && b.shouldRetry(err) {
				failed = append(failed, task)
				continue
			}
			b.logger.Warn("dropping monthly statistics sub-query",
				"core", b.core, "month", task.month, "pass", pass, "error", err)
			if b.metrics != nil {
				b.metrics.SolrRetriesTotal.WithLabelValues("dropped").Inc()
			}
		}
		pending = failed
	}
	return results
}

func (b *strategyBase) shouldRetry(err error) bool {
	switch b.policy {
	case config.RetryNever:
		return false
	case config.RetryAlways:
		return true
	default:
		var failure *solr.QueryFailure
		return errors.As(err, &failure) && failure.StatusCode == b.retryStatus
	}
}

// totalsQuery strips the nested breakdown facet, keeping only per-entity
// totals over the whole window.
func totalsQuery(q *statQuery) *solr.SelectQuery {
	cp := q.base.Clone()
	cp.Facet = map[string]any{
		"id": map[string]any{
			"type":     "terms",
			"mincount": 1,
			"limit":    1000,
			"field":    q.key,
		},
	}
	return cp
}

// assembleMonths turns per-month uuid counts into ordered per-entity month
// breakdowns, zero-filling months without activity. Entities that only
// appear in monthly results (none expected, but shards can disagree with
// the totals query) are added with a zero total.
func assembleMonths(result metricResult, period []string, months map[string]map[string]int) {
	for _, counts := range months {
		for uuid := range counts {
			if _, ok := result[uuid]; !ok {
				result[uuid] = &entityStat{}
			}
		}
	}
	for uuid, st := range result {
		st.Sub = make([]subCount, 0, len(period))
		for _, month := range period {
			st.Sub = append(st.Sub, subCount{Key: month, Count: months[month][uuid]})
		}
	}
}

// fillMonths reorders a month breakdown along the expected period,
// inserting zero counts for missing months.
func fillMonths(sub []subCount, period []string) []subCount {
	byMonth := make(map[string]int, len(sub))
	for _, sc := range sub {
		byMonth[sc.Key] = sc.Count
	}
	filled := make([]subCount, 0, len(period))
	for _, month := range period {
		filled = append(filled, subCount{Key: month, Count: byMonth[month]})
	}
	return filled
}

// subKey normalizes a facet bucket value into a breakdown key. Range facet
// buckets carry full timestamps; month keys keep only YYYY-MM.
func subKey(mode AggregationMode, val string) string {
	if mode == AggMonth && len(val) >= 7 {
		return val[:7]
	}
	return val
}

func decodeIDFacets(resp *solr.SelectResponse) (*solr.BucketList, error) {
	if len(resp.Facets) == 0 {
		return &solr.BucketList{}, nil
	}
	var facets solr.IDFacets
	if err := json.Unmarshal(resp.Facets, &facets); err != nil {
		return nil, fmt.Errorf("decoding facet tree: %w", err)
	}
	if facets.ID == nil {
		return &solr.BucketList{}, nil
	}
	return facets.ID, nil
}
