package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datashed/datashed/internal/catalog"
	"github.com/datashed/datashed/internal/server"
	"github.com/datashed/datashed/internal/workspace"
	"github.com/datashed/datashed/pkg/types"
)

func newTestAPI(t *testing.T) (*server.Server, http.Handler) {
	t.Helper()
	ws, err := workspace.Init(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatalf("failed to init workspace: %v", err)
	}
	srv := server.New(ws, server.Options{})
	if err := srv.Serve(); err != nil {
		t.Fatalf("failed to serve: %v", err)
	}
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	mw := DefaultMiddleware()
	mux := http.NewServeMux()
	mux.Handle("/v1/datasets", mw(NewDatasetListHandler(srv)))
	mux.Handle("/v1/datasets/", mw(NewDatasetHandler(srv)))
	mux.Handle("/v1/stats", mw(NewStatsHandler(srv)))
	return srv, mux
}

// seedDataset writes a completed dataset and returns its record.
func seedDataset(t *testing.T, srv *server.Server, name string, tags []string, rows int) *catalog.Record {
	t.Helper()
	ctx := context.Background()
	dw, err := srv.CreateDataset(ctx, catalog.Draft{Name: name, Tags: tags})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	for i := 0; i < rows; i++ {
		row := types.Row{
			{Name: "i", Value: types.Int(int64(i))},
			{Name: "signal", Value: types.Complex(complex(float64(i), -0.5))},
			{Name: "wave", Value: types.TraceValue(types.FixedTrace(0, 0.5, []float64{1, 2, 3}))},
		}
		if err := dw.WriteRow(row); err != nil {
			t.Fatalf("failed to write row %d: %v", i, err)
		}
	}
	record, err := dw.Finish(ctx)
	if err != nil {
		t.Fatalf("failed to finish: %v", err)
	}
	return record
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestDatasetListHandler(t *testing.T) {
	srv, h := newTestAPI(t)
	seedDataset(t, srv, "rabi", []string{"qubit1"}, 2)
	seedDataset(t, srv, "ramsey", []string{"qubit2"}, 2)

	rec, body := doJSON(t, h, http.MethodGet, "/v1/datasets", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["count"].(float64) != 2 {
		t.Fatalf("expected 2 datasets, got %v", body["count"])
	}
	datasets := body["datasets"].([]interface{})
	first := datasets[0].(map[string]interface{})
	if first["name"] != "ramsey" {
		t.Errorf("expected newest dataset first, got %v", first["name"])
	}
	if body["request_id"] == "" {
		t.Error("expected a request id in the response")
	}
}

func TestDatasetListHandler_Filters(t *testing.T) {
	srv, h := newTestAPI(t)
	seedDataset(t, srv, "rabi", []string{"qubit1"}, 1)
	seedDataset(t, srv, "ramsey", []string{"qubit2"}, 1)

	rec, body := doJSON(t, h, http.MethodGet, "/v1/datasets?tag=qubit2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["count"].(float64) != 1 {
		t.Fatalf("expected 1 dataset for tag filter, got %v", body["count"])
	}

	rec, body = doJSON(t, h, http.MethodGet, "/v1/datasets?name=rab&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	datasets := body["datasets"].([]interface{})
	if len(datasets) != 1 || datasets[0].(map[string]interface{})["name"] != "rabi" {
		t.Fatalf("expected the rabi dataset, got %v", datasets)
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/v1/datasets?limit=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestDatasetHandler_Get(t *testing.T) {
	srv, h := newTestAPI(t)
	record := seedDataset(t, srv, "spectroscopy", []string{"cavity"}, 3)

	rec, body := doJSON(t, h, http.MethodGet, "/v1/datasets/"+record.UID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["uid"] != record.UID {
		t.Errorf("expected uid %s, got %v", record.UID, body["uid"])
	}
	if body["name"] != "spectroscopy" {
		t.Errorf("expected name spectroscopy, got %v", body["name"])
	}
	if body["row_count"].(float64) != 3 {
		t.Errorf("expected 3 rows, got %v", body["row_count"])
	}
	tags := body["tags"].([]interface{})
	if len(tags) != 1 || tags[0] != "cavity" {
		t.Errorf("expected tags [cavity], got %v", tags)
	}
}

func TestDatasetHandler_GetUnknown(t *testing.T) {
	_, h := newTestAPI(t)

	rec, body := doJSON(t, h, http.MethodGet, "/v1/datasets/ffffffffffffffffffffffffffffffff", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body["code"] != "DATASET_NOT_FOUND" {
		t.Errorf("expected DATASET_NOT_FOUND code, got %v", body["code"])
	}
}

func TestDatasetHandler_Update(t *testing.T) {
	srv, h := newTestAPI(t)
	record := seedDataset(t, srv, "t1", nil, 1)

	rec, body := doJSON(t, h, http.MethodPatch, "/v1/datasets/"+record.UID,
		`{"name": "t1 decay", "favorite": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["name"] != "t1 decay" {
		t.Errorf("expected renamed dataset, got %v", body["name"])
	}
	if body["favorite"] != true {
		t.Errorf("expected favorite set, got %v", body["favorite"])
	}

	rec, _ = doJSON(t, h, http.MethodPatch, "/v1/datasets/"+record.UID, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty patch, got %d", rec.Code)
	}
}

func TestDatasetHandler_Tags(t *testing.T) {
	srv, h := newTestAPI(t)
	record := seedDataset(t, srv, "rabi", []string{"qubit1"}, 1)

	rec, body := doJSON(t, h, http.MethodPost, "/v1/datasets/"+record.UID+"/tags",
		`{"tags": ["calibration"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	tags := body["tags"].([]interface{})
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags after add, got %v", tags)
	}

	rec, body = doJSON(t, h, http.MethodDelete, "/v1/datasets/"+record.UID+"/tags",
		`{"tags": ["qubit1"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	tags = body["tags"].([]interface{})
	if len(tags) != 1 || tags[0] != "calibration" {
		t.Fatalf("expected [calibration] after remove, got %v", tags)
	}

	rec, _ = doJSON(t, h, http.MethodPost, "/v1/datasets/"+record.UID+"/tags", `{"tags": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty tags, got %d", rec.Code)
	}
}

func TestDatasetHandler_Rows(t *testing.T) {
	srv, h := newTestAPI(t)
	record := seedDataset(t, srv, "rabi", nil, 5)

	rec, body := doJSON(t, h, http.MethodGet, fmt.Sprintf("/v1/datasets/%s/rows?limit=3", record.UID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["total_rows"].(float64) != 5 {
		t.Errorf("expected total_rows 5, got %v", body["total_rows"])
	}
	rows := body["rows"].([]interface{})
	if len(rows) != 3 {
		t.Fatalf("expected 3 preview rows, got %d", len(rows))
	}

	first := rows[0].(map[string]interface{})
	if first["i"].(float64) != 0 {
		t.Errorf("expected i=0 in first row, got %v", first["i"])
	}
	signal := first["signal"].(map[string]interface{})
	if signal["real"].(float64) != 0 || signal["imag"].(float64) != -0.5 {
		t.Errorf("unexpected complex encoding: %v", signal)
	}
	wave := first["wave"].(map[string]interface{})
	if wave["step"] != "fixed" || wave["dx"].(float64) != 0.5 {
		t.Errorf("unexpected trace encoding: %v", wave)
	}
	if len(wave["values"].([]interface{})) != 3 {
		t.Errorf("expected 3 trace samples, got %v", wave["values"])
	}

	schema := body["schema"].([]interface{})
	names := make([]string, 0, len(schema))
	for _, col := range schema {
		names = append(names, col.(map[string]interface{})["name"].(string))
	}
	if len(names) != 3 {
		t.Errorf("expected 3 schema columns, got %v", names)
	}
}

func TestDatasetHandler_RowsOfWritingDataset(t *testing.T) {
	srv, h := newTestAPI(t)
	dw, err := srv.CreateDataset(context.Background(), catalog.Draft{Name: "open"})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	defer dw.Abort(context.Background())

	rec, _ := doJSON(t, h, http.MethodGet, "/v1/datasets/"+dw.UID().String()+"/rows", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a dataset still being written, got %d", rec.Code)
	}
}

func TestDatasetHandler_MethodNotAllowed(t *testing.T) {
	srv, h := newTestAPI(t)
	record := seedDataset(t, srv, "rabi", nil, 1)

	rec, _ := doJSON(t, h, http.MethodPut, "/v1/datasets/"+record.UID, `{}`)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
	rec, _ = doJSON(t, h, http.MethodPost, "/v1/datasets", `{}`)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 on the list endpoint, got %d", rec.Code)
	}
}

func TestDatasetHandler_UnknownSubresource(t *testing.T) {
	srv, h := newTestAPI(t)
	record := seedDataset(t, srv, "rabi", nil, 1)

	rec, _ := doJSON(t, h, http.MethodGet, "/v1/datasets/"+record.UID+"/chunks", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown subresource, got %d", rec.Code)
	}
}
