package solr

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// SelectQuery is a structured query against a Solr core's /select handler.
// Query/Filter/Limit/Facet travel in the JSON request body (modern
// protocol); Extra carries flat URL parameters for the legacy facet.pivot
// protocol and the shards parameter.
type SelectQuery struct {
	Query  string         `json:"query"`
	Filter []string       `json:"filter,omitempty"`
	Limit  int            `json:"limit"`
	Facet  map[string]any `json:"facet,omitempty"`

	Extra url.Values `json:"-"`
}

// Clone returns a deep copy so retry passes can resubmit a sub-query
// without sharing mutable state.
func (q *SelectQuery) Clone() *SelectQuery {
	cp := &SelectQuery{
		Query: q.Query,
		Limit: q.Limit,
	}
	cp.Filter = append(cp.Filter, q.Filter...)
	if q.Facet != nil {
		cp.Facet = make(map[string]any, len(q.Facet))
		for k, v := range q.Facet {
			cp.Facet[k] = v
		}
	}
	if q.Extra != nil {
		cp.Extra = make(url.Values, len(q.Extra))
		for k, v := range q.Extra {
			cp.Extra[k] = append([]string(nil), v...)
		}
	}
	return cp
}

// SelectResponse is the decoded body of a /select call. Facets holds the
// raw JSON facet tree (modern protocol); FacetCounts holds the legacy
// facet/pivot section.
type SelectResponse struct {
	Response struct {
		NumFound int `json:"numFound"`
	} `json:"response"`
	Facets      json.RawMessage `json:"facets,omitempty"`
	FacetCounts *FacetCounts    `json:"facet_counts,omitempty"`
}

// FacetCounts is the legacy flat facet section.
type FacetCounts struct {
	FacetPivot map[string][]PivotEntry `json:"facet_pivot,omitempty"`
}

// PivotEntry is one node of a legacy facet.pivot tree.
type PivotEntry struct {
	Field string       `json:"field"`
	Value string       `json:"value"`
	Count int          `json:"count"`
	Pivot []PivotEntry `json:"pivot,omitempty"`
}

// BucketList is a JSON terms/range facet result.
type BucketList struct {
	Buckets []Bucket `json:"buckets"`
}

// Bucket is a single facet bucket. Nested facets appear under the name
// they were requested with (country, city, month).
type Bucket struct {
	Val     string      `json:"val"`
	Count   int         `json:"count"`
	Country *BucketList `json:"country,omitempty"`
	City    *BucketList `json:"city,omitempty"`
	Month   *BucketList `json:"month,omitempty"`
}

// Sub returns the nested bucket list for the given aggregation name, or
// nil when absent.
func (b Bucket) Sub(name string) *BucketList {
	switch name {
	case "country":
		return b.Country
	case "city":
		return b.City
	case "month":
		return b.Month
	default:
		return nil
	}
}

// IDFacets is the facet tree shape produced by the statistics queries: a
// terms facet named "id" over the entity identifier key.
type IDFacets struct {
	ID *BucketList `json:"id"`
}

// QueryFailure is the typed failure returned when Solr rejects or cannot
// serve a query. It carries the original query so the caller can decide to
// resubmit it.
type QueryFailure struct {
	Core       string
	StatusCode int
	Message    string
	Query      *SelectQuery
}

func (f *QueryFailure) Error() string {
	if f.StatusCode == 0 {
		return fmt.Sprintf("solr query against %s failed: %s", f.Core, f.Message)
	}
	return fmt.Sprintf("solr query against %s failed with status %d: %s", f.Core, f.StatusCode, f.Message)
}
