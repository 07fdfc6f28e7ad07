package http

import (
	"net/http"
	"testing"
)

func TestStatsHandler(t *testing.T) {
	srv, h := newTestAPI(t)
	seedDataset(t, srv, "rabi", nil, 4)

	rec, body := doJSON(t, h, http.MethodGet, "/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["state"] != "serving" {
		t.Errorf("expected serving state, got %v", body["state"])
	}
	counters := body["counters"].(map[string]interface{})
	if counters["datasets_created"].(float64) != 1 {
		t.Errorf("expected 1 dataset created, got %v", counters["datasets_created"])
	}
	if counters["datasets_completed"].(float64) != 1 {
		t.Errorf("expected 1 dataset completed, got %v", counters["datasets_completed"])
	}
	if counters["rows_written"].(float64) != 4 {
		t.Errorf("expected 4 rows written, got %v", counters["rows_written"])
	}

	rec, _ = doJSON(t, h, http.MethodDelete, "/v1/stats", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
