package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/brandsight/adharvest/internal/harvest"
)

func newTestServer() (*Server, *ReportStore) {
	reports := NewReportStore()
	return NewServer(reports, zap.NewNop()), reports
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestReportBeforeAnyRound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/report", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any round, got %d", rec.Code)
	}
}

func TestReportReturnsLatestRound(t *testing.T) {
	t.Parallel()

	srv, reports := newTestServer()
	reports.Set(harvest.HarvestReport{
		RunID:     "run-1",
		StartedAt: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		Promoted:  3,
		Units: []harvest.UnitReport{
			{ChannelID: "searchco", ObserverID: "obs-1", State: harvest.UnitCompleted, Promoted: 3},
		},
	})
	reports.Set(harvest.HarvestReport{RunID: "run-2", Promoted: 1})

	req := httptest.NewRequest(http.MethodGet, "/report", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got harvest.HarvestReport
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if got.RunID != "run-2" || got.Promoted != 1 {
		t.Fatalf("expected the latest report, got %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_") {
		t.Fatalf("expected prometheus exposition output")
	}
}
