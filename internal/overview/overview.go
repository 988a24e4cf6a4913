// Package overview serves repository-wide statistics: ad-hoc facets over
// the discovery core plus total view and download counts, combined into a
// single response.
package overview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dspace-analytics/statistics-api/internal/solr"
	"github.com/dspace-analytics/statistics-api/pkg/config"
)

// FacetType selects how a requested facet is computed.
type FacetType string

const (
	// FacetAggregated buckets the field's values (terms facet).
	FacetAggregated FacetType = "aggregated"
	// FacetTotalUnique counts the field's distinct values.
	FacetTotalUnique FacetType = "total_unique"
)

// Facet is one requested facet. Limit applies to aggregated facets only
// and defaults to 10.
type Facet struct {
	Field string    `json:"field"`
	Type  FacetType `json:"type"`
	Limit int       `json:"limit,omitempty"`
}

// Request is the overview request body. Facets, views and downloads are
// each optional; the response carries whatever was asked for.
type Request struct {
	Facets    map[string]Facet `json:"facets,omitempty"`
	Views     bool             `json:"views,omitempty"`
	Downloads bool             `json:"downloads,omitempty"`
}

// itemScope restricts discovery-core facets to live, visible items.
const itemScope = "search.resourcetype:Item AND withdrawn:false AND discoverable:true"

const defaultFacetLimit = 10

type solrSearcher interface {
	Select(ctx context.Context, core string, query *solr.SelectQuery) (*solr.SelectResponse, error)
}

// Service answers overview requests against the discovery and statistics
// cores.
type Service struct {
	cfg    config.SolrConfig
	solr   solrSearcher
	logger *slog.Logger
}

func NewService(cfg config.SolrConfig, sc solrSearcher) *Service {
	return &Service{
		cfg:    cfg,
		solr:   sc,
		logger: slog.Default().With("component", "overview-service"),
	}
}

// Get merges the requested facet results and usage totals into one flat
// object. Solr failures are logged and contribute nothing rather than
// failing the request.
func (s *Service) Get(ctx context.Context, req Request) (map[string]any, error) {
	result := make(map[string]any)

	g, gctx := errgroup.WithContext(ctx)

	var facets map[string]any
	if len(req.Facets) > 0 {
		g.Go(func() error {
			var err error
			facets, err = s.facetCounts(gctx, req.Facets)
			if err != nil {
				s.logger.Warn("overview facet query failed", "error", err)
			}
			return nil
		})
	}

	var views, downloads atomic.Int64
	if req.Views {
		g.Go(func() error {
			views.Store(int64(s.usageTotal(gctx, "type:2", nil)))
			return nil
		})
	}
	if req.Downloads {
		g.Go(func() error {
			downloads.Store(int64(s.usageTotal(gctx, "type:0", []string{"bundleName:ORIGINAL"})))
			return nil
		})
	}
	g.Wait()

	for name, value := range facets {
		result[name] = value
	}
	if req.Views {
		result["views"] = views.Load()
	}
	if req.Downloads {
		result["downloads"] = downloads.Load()
	}
	return result, nil
}

// facetCounts runs the requested facets against the discovery core and
// returns the raw facet object, including Solr's overall count field.
func (s *Service) facetCounts(ctx context.Context, facets map[string]Facet) (map[string]any, error) {
	query := &solr.SelectQuery{
		Query: itemScope,
		Limit: 0,
		Facet: make(map[string]any, len(facets)),
	}
	for name, facet := range facets {
		switch facet.Type {
		case FacetAggregated:
			limit := facet.Limit
			if limit <= 0 {
				limit = defaultFacetLimit
			}
			query.Facet[name] = map[string]any{
				"type":  "terms",
				"field": facet.Field,
				"limit": limit,
			}
		case FacetTotalUnique:
			query.Facet[name] = fmt.Sprintf("unique(%s)", facet.Field)
		}
	}
	if len(query.Facet) == 0 {
		return nil, nil
	}

	resp, err := s.solr.Select(ctx, s.cfg.SearchCore, query)
	if err != nil {
		return nil, err
	}
	if len(resp.Facets) == 0 {
		return nil, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(resp.Facets, &decoded); err != nil {
		return nil, fmt.Errorf("decoding facet results: %w", err)
	}
	return decoded, nil
}

// usageTotal returns the numFound of a bot-filtered statistics query.
func (s *Service) usageTotal(ctx context.Context, base string, extraFilters []string) int {
	query := &solr.SelectQuery{
		Query:  base,
		Filter: append([]string{"-isBot:true", "statistics_type:view"}, extraFilters...),
		Limit:  0,
	}
	resp, err := s.solr.Select(ctx, s.cfg.StatisticsCore, query)
	if err != nil {
		s.logger.Warn("usage total query failed", "query", base, "error", err)
		return 0
	}
	return resp.Response.NumFound
}
