package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func staticCheck(status Status, message string) Check {
	return func(context.Context) ComponentHealth {
		return ComponentHealth{Status: status, Message: message}
	}
}

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("postgres", staticCheck(StatusUp, ""))
	c.Register("solr", staticCheck(StatusUp, ""))

	report := c.Run(context.Background())
	if report.Status != StatusUp {
		t.Errorf("status = %s, want up", report.Status)
	}
	if len(report.Components) != 2 {
		t.Errorf("components = %v", report.Components)
	}

	c.Register("redis", staticCheck(StatusDegraded, "not configured"))
	if report := c.Run(context.Background()); report.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", report.Status)
	}

	c.Register("solr", staticCheck(StatusDown, "connection refused"))
	report = c.Run(context.Background())
	if report.Status != StatusDown {
		t.Errorf("status = %s, want down to dominate degraded", report.Status)
	}
	if report.Components["solr"].Message != "connection refused" {
		t.Errorf("solr = %+v", report.Components["solr"])
	}
}

func TestReadyHandlerDegradedStaysReady(t *testing.T) {
	c := NewChecker()
	c.Register("redis", staticCheck(StatusDegraded, "not configured"))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want a degraded cache to keep the service ready", rec.Code)
	}
	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusDegraded {
		t.Errorf("report status = %s", report.Status)
	}
}

func TestReadyHandlerDownIsUnavailable(t *testing.T) {
	c := NewChecker()
	c.Register("postgres", staticCheck(StatusDown, "no route to host"))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestLiveHandlerIgnoresDependencies(t *testing.T) {
	c := NewChecker()
	c.Register("postgres", staticCheck(StatusDown, "no route to host"))

	rec := httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, liveness must not depend on dependencies", rec.Code)
	}
}
