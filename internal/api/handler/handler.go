// Package handler implements the HTTP handlers of the statistics API. One
// generic handler set serves all three entity kinds; the router binds each
// kind to its route prefix.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dspace-analytics/statistics-api/internal/catalog"
	"github.com/dspace-analytics/statistics-api/internal/overview"
	"github.com/dspace-analytics/statistics-api/internal/statistics"
	apperrors "github.com/dspace-analytics/statistics-api/pkg/errors"
	"github.com/dspace-analytics/statistics-api/pkg/logger"
)

// StatisticsProvider is the statistics service surface the handlers use.
type StatisticsProvider interface {
	GetOne(ctx context.Context, kind catalog.Kind, uuid string, q statistics.Query) (*statistics.StatisticsRecord, error)
	GetPage(ctx context.Context, kind catalog.Kind, q statistics.Query) (*statistics.PageEnvelope, error)
	CSVExport(ctx context.Context, kind catalog.Kind, uuid string, q statistics.Query, w io.Writer) error
}

// OverviewProvider answers repository-wide overview requests.
type OverviewProvider interface {
	Get(ctx context.Context, req overview.Request) (map[string]any, error)
}

// Handler holds the services behind the HTTP surface.
type Handler struct {
	stats    StatisticsProvider
	overview OverviewProvider
	logger   *slog.Logger
}

func New(stats StatisticsProvider, ov OverviewProvider) *Handler {
	return &Handler{
		stats:    stats,
		overview: ov,
		logger:   slog.Default().With("component", "api-handler"),
	}
}

// List serves GET /{kind}: a page of entities with their statistics.
func (h *Handler) List(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		envelope, err := h.stats.GetPage(r.Context(), kind, queryFromRequest(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, envelope)
	}
}

// Get serves GET /{kind}/{uuid}: one entity with its statistics.
func (h *Handler) Get(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := h.stats.GetOne(r.Context(), kind, r.PathValue("uuid"), queryFromRequest(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

// CSV serves GET /{kind}/csv and GET /{kind}/{uuid}/csv. The export is
// streamed; by the time an error can occur, headers may already be out,
// so failures after the first write only terminate the stream.
func (h *Handler) CSV(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := queryFromRequest(r)
		// CSV exports only widen columns by month.
		if q.Aggregate != string(statistics.AggMonth) {
			q.Aggregate = ""
		}

		filename := fmt.Sprintf("DSpace-%s-statistics-%s.csv",
			kind.Label(), time.Now().UTC().Format(time.RFC3339))
		w.Header().Set("Content-Type", "application/octet-stream; charset=utf8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

		if err := h.stats.CSVExport(r.Context(), kind, r.PathValue("uuid"), q, w); err != nil {
			h.writeError(w, r, err)
		}
	}
}

// Overview serves POST /stats.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	var req overview.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "decoding request body: %v", err))
		return
	}
	result, err := h.overview.Get(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryFromRequest lifts the raw query parameters; normalization and
// defaulting happen in the statistics service.
func queryFromRequest(r *http.Request) statistics.Query {
	params := r.URL.Query()
	return statistics.Query{
		Limit:     params.Get("limit"),
		Page:      params.Get("page"),
		StartDate: params.Get("start_date"),
		EndDate:   params.Get("end_date"),
		Aggregate: params.Get("aggregate"),
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		log.Warn("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
