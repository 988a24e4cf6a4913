// Package statistics assembles usage statistics for repository entities:
// it normalizes request parameters, builds and executes analytics queries
// against Solr, joins the results with catalog metadata, and renders the
// outcome as JSON records or CSV exports.
package statistics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dspace-analytics/statistics-api/internal/catalog"
	"github.com/dspace-analytics/statistics-api/pkg/config"
	apperrors "github.com/dspace-analytics/statistics-api/pkg/errors"
	"github.com/dspace-analytics/statistics-api/pkg/metrics"
	"github.com/dspace-analytics/statistics-api/pkg/redis"
	"github.com/dspace-analytics/statistics-api/pkg/resilience"
)

// shardDiscoveryTimeout caps the cores STATUS call so a slow admin API
// cannot stall every request of a sharded installation.
const shardDiscoveryTimeout = 15 * time.Second

// catalogReader is the slice of the catalog repository the service needs.
type catalogReader interface {
	Rows(ctx context.Context, kind catalog.Kind, uuid string, limit, page int) ([]catalog.EntityRow, error)
	Total(ctx context.Context, kind catalog.Kind) (int, error)
}

// solrClient is the Solr surface the service needs: query execution plus
// shard topology discovery.
type solrClient interface {
	solrSearcher
	StatisticsShards(ctx context.Context, core string) (string, error)
}

// Query carries raw, unvalidated request parameters. Normalization never
// fails; malformed values fall back to defaults.
type Query struct {
	Limit     string
	Page      string
	StartDate string
	EndDate   string
	Aggregate string
}

// PageEnvelope wraps a page of statistics records with pagination
// metadata for unscoped requests.
type PageEnvelope struct {
	CurrentPage int                `json:"current_page"`
	Limit       int                `json:"limit"`
	TotalPages  int                `json:"total_pages"`
	Statistics  []StatisticsRecord `json:"statistics"`
}

// Service orchestrates catalog reads, analytics queries and merging.
type Service struct {
	cfg      *config.Config
	catalog  catalogReader
	solr     solrClient
	strategy queryStrategy
	cache    *responseCache
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// now is replaceable in tests; date-window anchoring depends on it.
	now func() time.Time
}

// NewService creates the statistics service. cacheClient may be nil to run
// without a response cache; m may be nil to run uninstrumented.
func NewService(cfg *config.Config, cat catalogReader, sc solrClient, cacheClient *redis.Client, m *metrics.Metrics) (*Service, error) {
	strategy, err := newStrategy(cfg.Solr, sc, m)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:      cfg,
		catalog:  cat,
		solr:     sc,
		strategy: strategy,
		cache:    newResponseCache(cacheClient, cfg.Redis.CacheTTL, m),
		metrics:  m,
		logger:   slog.Default().With("component", "statistics-service"),
		now:      time.Now,
	}, nil
}

// GetOne returns the statistics record for a single entity. The catalog
// lookup and the shard topology discovery run concurrently. It fails with
// ErrNotFound when the catalog has no such visible entity.
func (s *Service) GetOne(ctx context.Context, kind catalog.Kind, uuid string, q Query) (*StatisticsRecord, error) {
	mode := NormalizeAggregation(q.Aggregate)
	rng := NormalizeDateRange(q.StartDate, q.EndDate, mode, s.today())

	key := cacheKey(kind, uuid, 0, 0, rng, mode)
	var cached StatisticsRecord
	if s.cache.get(ctx, key, &cached) {
		return &cached, nil
	}

	v, err := s.cache.once(key, func() (any, error) {
		var (
			rows   []catalog.EntityRow
			shards string
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			rows, err = s.catalog.Rows(gctx, kind, uuid, 0, 0)
			return err
		})
		g.Go(func() error {
			shards = s.shardTopology(gctx)
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "%s %s not found", kind, uuid)
		}

		views, downloads := s.fetchMetrics(ctx, kind, []string{uuid}, rng, mode, shards)
		records := Merge(rows, views, downloads, mode)
		return &records[0], nil
	})
	if err != nil {
		return nil, err
	}

	record := v.(*StatisticsRecord)
	s.cache.put(ctx, key, record)
	return record, nil
}

// GetPage returns one page of statistics records for every visible entity
// of a kind, wrapped in a PageEnvelope. The catalog page, the entity
// total and the shard topology are fetched concurrently, then views and
// downloads queries run concurrently over the page's ids.
func (s *Service) GetPage(ctx context.Context, kind catalog.Kind, q Query) (*PageEnvelope, error) {
	limit := NormalizeLimit(q.Limit)
	page := NormalizePage(q.Page)
	mode := NormalizeAggregation(q.Aggregate)
	rng := NormalizeDateRange(q.StartDate, q.EndDate, mode, s.today())

	key := cacheKey(kind, "", limit, page, rng, mode)
	var cached PageEnvelope
	if s.cache.get(ctx, key, &cached) {
		return &cached, nil
	}

	v, err := s.cache.once(key, func() (any, error) {
		var (
			rows   []catalog.EntityRow
			total  int
			shards string
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			rows, err = s.catalog.Rows(gctx, kind, "", limit, page)
			return err
		})
		g.Go(func() error {
			var err error
			total, err = s.catalog.Total(gctx, kind)
			return err
		})
		g.Go(func() error {
			shards = s.shardTopology(gctx)
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}

		env := &PageEnvelope{
			CurrentPage: page,
			Limit:       limit,
			TotalPages:  int(math.Ceil(float64(total) / float64(limit))),
			Statistics:  []StatisticsRecord{},
		}
		if len(rows) > 0 {
			uuids := make([]string, len(rows))
			for i, row := range rows {
				uuids[i] = row.UUID
			}
			views, downloads := s.fetchMetrics(ctx, kind, uuids, rng, mode, shards)
			env.Statistics = Merge(rows, views, downloads, mode)
		}
		return env, nil
	})
	if err != nil {
		return nil, err
	}

	envelope := v.(*PageEnvelope)
	s.cache.put(ctx, key, envelope)
	return envelope, nil
}

// CSVExport streams statistics for every visible entity of a kind to w,
// or for a single entity when uuid is non-empty. Entities are processed
// in chunks so only one chunk's analytics queries are in flight at a
// time; chunk N+1 starts after chunk N's rows are written.
func (s *Service) CSVExport(ctx context.Context, kind catalog.Kind, uuid string, q Query, w io.Writer) error {
	started := time.Now()
	mode := NormalizeAggregation(q.Aggregate)
	rng := NormalizeDateRange(q.StartDate, q.EndDate, mode, s.today())

	rows, err := s.catalog.Rows(ctx, kind, uuid, 0, 0)
	if err != nil {
		return err
	}
	if uuid != "" && len(rows) == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "%s %s not found", kind, uuid)
	}
	shards := s.shardTopology(ctx)

	var months []string
	if mode == AggMonth {
		if _, _, startMonth, endMonth, ok := timeBounds(rng, s.today()); ok {
			months = MonthsPeriod(startMonth, endMonth)
		}
	}

	serializer := newCSVSerializer(w, s.cfg.DSpace.HandleBaseURL, months)
	if err := serializer.writeHeader(); err != nil {
		return err
	}

	for offset := 0; offset < len(rows); offset += csvChunkSize {
		chunk := rows[offset:min(offset+csvChunkSize, len(rows))]
		uuids := make([]string, len(chunk))
		for i, row := range chunk {
			uuids[i] = row.UUID
		}

		views, downloads := s.fetchMetrics(ctx, kind, uuids, rng, mode, shards)
		records := Merge(chunk, views, downloads, mode)
		if err := serializer.writeRecords(records); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.CSVRowsExported.WithLabelValues(kind.String()).Add(float64(len(records)))
		}
	}

	if s.metrics != nil {
		s.metrics.CSVExportDuration.WithLabelValues(kind.String()).Observe(time.Since(started).Seconds())
	}
	return nil
}

// fetchMetrics runs the views and downloads queries concurrently. A
// failed analytics query contributes zero statistics instead of failing
// the request.
func (s *Service) fetchMetrics(ctx context.Context, kind catalog.Kind, uuids []string, rng DateRange, mode AggregationMode, shards string) (views, downloads metricResult) {
	keys := s.kindKeys(kind)
	today := s.today()

	viewsQuery := buildStatQuery(MetricViews, keys.Views, uuids, rng, mode, today)
	downloadsQuery := buildStatQuery(MetricDownloads, keys.Downloads, uuids, rng, mode, today)
	applyShards(viewsQuery, shards)
	applyShards(downloadsQuery, shards)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		views = s.runQuery(gctx, viewsQuery)
		return nil
	})
	g.Go(func() error {
		downloads = s.runQuery(gctx, downloadsQuery)
		return nil
	})
	g.Wait()
	return views, downloads
}

func (s *Service) runQuery(ctx context.Context, q *statQuery) metricResult {
	result, err := s.strategy.run(ctx, q)
	if err != nil {
		s.logger.Warn("analytics query failed, contributing zero statistics",
			"metric", q.metric, "key", q.key, "error", err)
		return metricResult{}
	}
	return result
}

// shardTopology discovers the shards parameter for sharded installations.
// Discovery failure or slowness degrades to querying the main core only.
func (s *Service) shardTopology(ctx context.Context) string {
	if s.cfg.Solr.Protocol != "sharded" {
		return ""
	}
	var shards string
	err := resilience.WithTimeout(ctx, shardDiscoveryTimeout, "shard-discovery", func(ctx context.Context) error {
		var err error
		shards, err = s.solr.StatisticsShards(ctx, s.cfg.Solr.StatisticsCore)
		return err
	})
	if err != nil {
		s.logger.Warn("shard discovery failed, querying main core only", "error", err)
		return ""
	}
	return shards
}

func (s *Service) kindKeys(kind catalog.Kind) config.KindKeys {
	switch kind {
	case catalog.KindCollection:
		return s.cfg.DSpace.CollectionKeys
	case catalog.KindCommunity:
		return s.cfg.DSpace.CommunityKeys
	default:
		return s.cfg.DSpace.ItemKeys
	}
}

func (s *Service) today() time.Time {
	return s.now().UTC()
}

func applyShards(q *statQuery, shards string) {
	if shards == "" {
		return
	}
	if q.base.Extra == nil {
		q.base.Extra = url.Values{}
	}
	q.base.Extra.Set("shards", shards)
}

func cacheKey(kind catalog.Kind, uuid string, limit, page int, rng DateRange, mode AggregationMode) string {
	return fmt.Sprintf("stats:%s:%s:%d:%d:%s:%s:%s", kind, uuid, limit, page, rng.Start, rng.End, mode)
}
