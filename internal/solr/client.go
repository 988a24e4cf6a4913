// Package solr is the HTTP client for the Solr statistics engine. It speaks
// both the modern JSON request API and the legacy flat-parameter API, and
// discovers statistics shard cores for sharded installations.
package solr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dspace-analytics/statistics-api/pkg/config"
	"github.com/dspace-analytics/statistics-api/pkg/metrics"
	"github.com/dspace-analytics/statistics-api/pkg/resilience"
)

// Client executes queries against a Solr server.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Solr client. The transport timeout comes from cfg; the
// circuit breaker trips after repeated consecutive failures so a dead Solr
// does not hold every request for the full timeout. A nil metrics
// disables instrumentation (tests).
func New(cfg config.SolrConfig, m *metrics.Metrics) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		breaker: resilience.NewCircuitBreaker("solr", resilience.CircuitBreakerConfig{
			FailureThreshold: 10,
			ResetTimeout:     15 * time.Second,
		}),
		metrics: m,
		logger:  slog.Default().With("component", "solr-client"),
	}
}

// Select POSTs a JSON-bodied query to <base>/<core>/select. Extra URL
// parameters (shards, legacy facet params) are appended to the query
// string. On failure it returns a *QueryFailure carrying the original
// query.
func (c *Client) Select(ctx context.Context, core string, query *SelectQuery) (*SelectResponse, error) {
	start := time.Now()
	resp, err := c.doSelect(ctx, core, query, "json")
	c.record(core, "json", start, err)
	return resp, err
}

// SelectLegacy GETs <base>/<core>/select with flat URL parameters only
// (facet=true, facet.pivot=..., fq=...), for Solr versions predating the
// JSON facet API.
func (c *Client) SelectLegacy(ctx context.Context, core string, query *SelectQuery) (*SelectResponse, error) {
	start := time.Now()
	resp, err := c.doSelect(ctx, core, query, "legacy")
	c.record(core, "legacy", start, err)
	return resp, err
}

func (c *Client) record(core, variant string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.SolrQueriesTotal.WithLabelValues(core, variant, outcome).Inc()
	c.metrics.SolrQueryDuration.WithLabelValues(core, variant).Observe(time.Since(start).Seconds())
}

func (c *Client) doSelect(ctx context.Context, core string, query *SelectQuery, variant string) (*SelectResponse, error) {
	var result *SelectResponse
	err := c.breaker.Execute(func() error {
		var err error
		result, err = c.selectOnce(ctx, core, query, variant)
		return err
	})
	if err != nil {
		c.logger.Debug("select failed", "core", core, "variant", variant, "error", err)
		if failure, ok := err.(*QueryFailure); ok {
			return nil, failure
		}
		// Breaker-open and similar local errors still carry the query
		// so the caller can resubmit later.
		return nil, &QueryFailure{Core: core, Message: err.Error(), Query: query}
	}
	return result, nil
}

func (c *Client) selectOnce(ctx context.Context, core string, query *SelectQuery, variant string) (*SelectResponse, error) {
	endpoint := fmt.Sprintf("%s/%s/select", c.baseURL, core)

	var req *http.Request
	var err error
	if variant == "legacy" {
		params := make(url.Values, len(query.Extra)+4)
		for k, v := range query.Extra {
			params[k] = v
		}
		params.Set("q", query.Query)
		for _, f := range query.Filter {
			params.Add("fq", f)
		}
		params.Set("rows", "0")
		params.Set("wt", "json")
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	} else {
		if len(query.Extra) > 0 {
			endpoint += "?" + query.Extra.Encode()
		}
		var body []byte
		body, err = json.Marshal(query)
		if err != nil {
			return nil, &QueryFailure{Core: core, Message: fmt.Sprintf("encoding query: %v", err), Query: query}
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, &QueryFailure{Core: core, Message: fmt.Sprintf("building request: %v", err), Query: query}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &QueryFailure{Core: core, Message: err.Error(), Query: query}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &QueryFailure{Core: core, StatusCode: resp.StatusCode, Message: err.Error(), Query: query}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &QueryFailure{
			Core:       core,
			StatusCode: resp.StatusCode,
			Message:    upstreamErrorMessage(payload),
			Query:      query,
		}
	}

	var result SelectResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, &QueryFailure{Core: core, StatusCode: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err), Query: query}
	}
	return &result, nil
}

// upstreamErrorMessage extracts Solr's error message from an error payload,
// falling back to the raw body.
func upstreamErrorMessage(payload []byte) string {
	var body struct {
		Error struct {
			Msg  string `json:"msg"`
			Code int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Error.Msg != "" {
		return body.Error.Msg
	}
	if len(payload) > 512 {
		payload = payload[:512]
	}
	return string(payload)
}

// StatisticsShards lists the statistics cores of a sharded installation
// ("statistics", "statistics-2019", ...) as a Solr shards parameter value.
// An empty string means the installation is unsharded.
func (c *Client) StatisticsShards(ctx context.Context, statisticsCore string) (string, error) {
	endpoint := fmt.Sprintf("%s/admin/cores?action=STATUS&wt=json", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building cores request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("listing solr cores: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("listing solr cores: status %d", resp.StatusCode)
	}

	var body struct {
		Status map[string]struct {
			Name string `json:"name"`
		} `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding cores response: %w", err)
	}

	var shards []string
	for name := range body.Status {
		if name == statisticsCore || strings.HasPrefix(name, statisticsCore+"-") {
			shards = append(shards, fmt.Sprintf("%s/%s", c.baseURL, name))
		}
	}
	if len(shards) <= 1 {
		return "", nil
	}
	return strings.Join(shards, ","), nil
}

// Ping probes the statistics core, used by the health checker.
func (c *Client) Ping(ctx context.Context, core string) error {
	endpoint := fmt.Sprintf("%s/%s/admin/ping?wt=json", c.baseURL, core)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solr ping: status %d", resp.StatusCode)
	}
	return nil
}
