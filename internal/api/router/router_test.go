package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apihandler "github.com/dspace-analytics/statistics-api/internal/api/handler"
	"github.com/dspace-analytics/statistics-api/internal/catalog"
	"github.com/dspace-analytics/statistics-api/internal/overview"
	"github.com/dspace-analytics/statistics-api/internal/statistics"
	apperrors "github.com/dspace-analytics/statistics-api/pkg/errors"
	"github.com/dspace-analytics/statistics-api/pkg/health"
)

type fakeStats struct {
	lastKind  catalog.Kind
	lastUUID  string
	lastQuery statistics.Query
	csvCalled bool
	err       error
}

func (f *fakeStats) GetOne(_ context.Context, kind catalog.Kind, uuid string, q statistics.Query) (*statistics.StatisticsRecord, error) {
	f.lastKind, f.lastUUID, f.lastQuery = kind, uuid, q
	if f.err != nil {
		return nil, f.err
	}
	return &statistics.StatisticsRecord{UUID: uuid, Views: 42}, nil
}

func (f *fakeStats) GetPage(_ context.Context, kind catalog.Kind, q statistics.Query) (*statistics.PageEnvelope, error) {
	f.lastKind, f.lastQuery = kind, q
	if f.err != nil {
		return nil, f.err
	}
	return &statistics.PageEnvelope{CurrentPage: 1, Limit: 100, TotalPages: 1, Statistics: []statistics.StatisticsRecord{}}, nil
}

func (f *fakeStats) CSVExport(_ context.Context, kind catalog.Kind, uuid string, q statistics.Query, w io.Writer) error {
	f.csvCalled = true
	f.lastKind, f.lastUUID, f.lastQuery = kind, uuid, q
	if f.err != nil {
		return f.err
	}
	_, err := io.WriteString(w, "UUID,Title,Handle,Total downloads,Total views\n")
	return err
}

type fakeOverview struct {
	lastReq overview.Request
}

func (f *fakeOverview) Get(_ context.Context, req overview.Request) (map[string]any, error) {
	f.lastReq = req
	return map[string]any{"views": 10}, nil
}

func newTestServer(t *testing.T, stats *fakeStats) (*httptest.Server, *fakeOverview) {
	t.Helper()
	ov := &fakeOverview{}
	h := apihandler.New(stats, ov)
	server := httptest.NewServer(New(h, health.NewChecker(), nil, "secret", time.Minute))
	t.Cleanup(server.Close)
	return server, ov
}

func TestListRoutesPerKind(t *testing.T) {
	for path, kind := range map[string]catalog.Kind{
		"/items":       catalog.KindItem,
		"/collections": catalog.KindCollection,
		"/communities": catalog.KindCommunity,
	} {
		stats := &fakeStats{}
		server, _ := newTestServer(t, stats)

		resp, err := http.Get(server.URL + path + "?limit=10&page=2&aggregate=country")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d", path, resp.StatusCode)
		}
		if stats.lastKind != kind {
			t.Errorf("GET %s routed to kind %q, want %q", path, stats.lastKind, kind)
		}
		if stats.lastQuery.Limit != "10" || stats.lastQuery.Page != "2" || stats.lastQuery.Aggregate != "country" {
			t.Errorf("GET %s query = %+v", path, stats.lastQuery)
		}
	}
}

func TestGetSingleEntity(t *testing.T) {
	stats := &fakeStats{}
	server, _ := newTestServer(t, stats)

	resp, err := http.Get(server.URL + "/items/abc-123")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var record statistics.StatisticsRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		t.Fatal(err)
	}
	if record.UUID != "abc-123" || record.Views != 42 {
		t.Errorf("record = %+v", record)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestGetSingleEntityNotFound(t *testing.T) {
	stats := &fakeStats{err: apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "item missing not found")}
	server, _ := newTestServer(t, stats)

	resp, err := http.Get(server.URL + "/items/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCSVRequiresAPIKey(t *testing.T) {
	stats := &fakeStats{}
	server, _ := newTestServer(t, stats)

	resp, err := http.Get(server.URL + "/items/csv")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if stats.csvCalled {
		t.Error("export must be rejected before any work starts")
	}
}

func TestCSVWithAPIKey(t *testing.T) {
	stats := &fakeStats{}
	server, _ := newTestServer(t, stats)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/collections/csv?aggregate=country", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/octet-stream; charset=utf8" {
		t.Errorf("content type = %q", ct)
	}
	disposition := resp.Header.Get("Content-Disposition")
	if !strings.Contains(disposition, "DSpace-Collections-statistics-") || !strings.HasSuffix(disposition, `.csv"`) {
		t.Errorf("content disposition = %q", disposition)
	}
	// CSV exports only support the month breakdown.
	if stats.lastQuery.Aggregate != "" {
		t.Errorf("aggregate = %q, want non-month aggregation stripped", stats.lastQuery.Aggregate)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "UUID,Title,Handle") {
		t.Errorf("body = %q", body)
	}
}

func TestCSVSingleEntityRoute(t *testing.T) {
	stats := &fakeStats{}
	server, _ := newTestServer(t, stats)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/items/abc/csv", nil)
	req.Header.Set("X-API-Key", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if stats.lastUUID != "abc" {
		t.Errorf("uuid = %q", stats.lastUUID)
	}
}

func TestOverviewEndpoint(t *testing.T) {
	stats := &fakeStats{}
	server, ov := newTestServer(t, stats)

	body := strings.NewReader(`{"views":true,"facets":{"types":{"field":"dc.type","type":"aggregated"}}}`)
	resp, err := http.Post(server.URL+"/stats", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !ov.lastReq.Views || ov.lastReq.Facets["types"].Field != "dc.type" {
		t.Errorf("request = %+v", ov.lastReq)
	}
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result["views"] != float64(10) {
		t.Errorf("result = %v", result)
	}
}

func TestOverviewRejectsMalformedBody(t *testing.T) {
	server, _ := newTestServer(t, &fakeStats{})

	resp, err := http.Post(server.URL+"/stats", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthRoutes(t *testing.T) {
	server, _ := newTestServer(t, &fakeStats{})

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d", path, resp.StatusCode)
		}
	}
}
