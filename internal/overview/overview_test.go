package overview

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dspace-analytics/statistics-api/internal/solr"
	"github.com/dspace-analytics/statistics-api/pkg/config"
)

type fakeSolr struct {
	responses map[string]*solr.SelectResponse
	queries   map[string]*solr.SelectQuery
	err       error
}

func (f *fakeSolr) Select(_ context.Context, core string, query *solr.SelectQuery) (*solr.SelectResponse, error) {
	if f.queries == nil {
		f.queries = make(map[string]*solr.SelectQuery)
	}
	f.queries[core+":"+query.Query] = query
	if f.err != nil {
		return nil, f.err
	}
	resp, ok := f.responses[core+":"+query.Query]
	if !ok {
		return &solr.SelectResponse{}, nil
	}
	return resp, nil
}

func response(t *testing.T, body string) *solr.SelectResponse {
	t.Helper()
	var resp solr.SelectResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatal(err)
	}
	return &resp
}

func testService(fake *fakeSolr) *Service {
	return NewService(config.SolrConfig{
		StatisticsCore: "statistics",
		SearchCore:     "search",
	}, fake)
}

func TestGetUsageTotals(t *testing.T) {
	fake := &fakeSolr{responses: map[string]*solr.SelectResponse{
		"statistics:type:2": response(t, `{"response":{"numFound":1234}}`),
		"statistics:type:0": response(t, `{"response":{"numFound":567}}`),
	}}
	svc := testService(fake)

	result, err := svc.Get(context.Background(), Request{Views: true, Downloads: true})
	if err != nil {
		t.Fatal(err)
	}
	if result["views"] != int64(1234) || result["downloads"] != int64(567) {
		t.Errorf("result = %v", result)
	}

	downloads := fake.queries["statistics:type:0"]
	found := false
	for _, f := range downloads.Filter {
		if f == "bundleName:ORIGINAL" {
			found = true
		}
	}
	if !found {
		t.Errorf("downloads filters = %v, want bundle restriction", downloads.Filter)
	}
}

func TestGetFacets(t *testing.T) {
	fake := &fakeSolr{responses: map[string]*solr.SelectResponse{
		"search:" + itemScope: {
			Facets: json.RawMessage(`{"count":10,"types":{"buckets":[{"val":"article","count":8}]},"authors":42}`),
		},
	}}
	svc := testService(fake)

	req := Request{Facets: map[string]Facet{
		"types":   {Field: "dc.type", Type: FacetAggregated},
		"authors": {Field: "author", Type: FacetTotalUnique},
	}}
	result, err := svc.Get(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := result["types"]; !ok {
		t.Errorf("result = %v, want types facet merged in", result)
	}
	if result["authors"] != float64(42) {
		t.Errorf("authors = %v", result["authors"])
	}

	sent := fake.queries["search:"+itemScope]
	if sent.Limit != 0 {
		t.Errorf("limit = %d, want 0", sent.Limit)
	}
	terms, ok := sent.Facet["types"].(map[string]any)
	if !ok || terms["limit"] != defaultFacetLimit {
		t.Errorf("types facet = %v, want terms facet with default limit", sent.Facet["types"])
	}
	if sent.Facet["authors"] != "unique(author)" {
		t.Errorf("authors facet = %v", sent.Facet["authors"])
	}
}

func TestGetToleratesSolrFailure(t *testing.T) {
	fake := &fakeSolr{err: &solr.QueryFailure{Core: "statistics", StatusCode: 503, Message: "down"}}
	svc := testService(fake)

	result, err := svc.Get(context.Background(), Request{Views: true})
	if err != nil {
		t.Fatal(err)
	}
	if result["views"] != int64(0) {
		t.Errorf("views = %v, want zero on engine failure", result["views"])
	}
}
