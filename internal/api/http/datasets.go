package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/datashed/datashed/internal/catalog"
	"github.com/datashed/datashed/internal/server"
	"github.com/datashed/datashed/pkg/types"
)

// datasetsPrefix is the mount point of the dataset handlers.
const datasetsPrefix = "/v1/datasets"

// DefaultPreviewRows caps the row preview when no limit is given.
const DefaultPreviewRows = 100

// DatasetResponse is the wire shape of one catalog record.
type DatasetResponse struct {
	ID          int64      `json:"id"`
	UID         string     `json:"uid"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Path        string     `json:"path"`
	Favorite    bool       `json:"favorite"`
	Status      string     `json:"status"`
	Tags        []string   `json:"tags"`
	RowCount    int64      `json:"row_count"`
	ChunkCount  int64      `json:"chunk_count"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListResponse is the response of GET /v1/datasets.
type ListResponse struct {
	Datasets  []DatasetResponse `json:"datasets"`
	Count     int               `json:"count"`
	RequestID string            `json:"request_id"`
}

// UpdateRequest is the body of PATCH /v1/datasets/{uid}. Absent fields are
// left unchanged.
type UpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Favorite    *bool   `json:"favorite,omitempty"`
}

// TagsRequest is the body of POST and DELETE /v1/datasets/{uid}/tags.
type TagsRequest struct {
	Tags []string `json:"tags"`
}

// RowsResponse is the response of GET /v1/datasets/{uid}/rows.
type RowsResponse struct {
	UID       string                   `json:"uid"`
	Schema    []ColumnResponse         `json:"schema"`
	Rows      []map[string]interface{} `json:"rows"`
	TotalRows int64                    `json:"total_rows"`
	RequestID string                   `json:"request_id"`
}

// ColumnResponse is the wire shape of one schema column.
type ColumnResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func datasetResponse(record *catalog.Record) DatasetResponse {
	tags := record.Tags
	if tags == nil {
		tags = []string{}
	}
	return DatasetResponse{
		ID:          record.ID,
		UID:         record.UID,
		Name:        record.Name,
		Description: record.Description,
		Path:        record.Path,
		Favorite:    record.Favorite,
		Status:      record.Status,
		Tags:        tags,
		RowCount:    record.RowCount,
		ChunkCount:  record.ChunkCount,
		CreatedAt:   record.CreatedAt,
		CompletedAt: record.CompletedAt,
	}
}

// DatasetListHandler handles GET /v1/datasets requests.
type DatasetListHandler struct {
	srv *server.Server
}

// NewDatasetListHandler creates a dataset list handler.
func NewDatasetListHandler(srv *server.Server) *DatasetListHandler {
	return &DatasetListHandler{srv: srv}
}

// ServeHTTP handles the list HTTP request.
func (h *DatasetListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	filter := catalog.Filter{
		Name:   r.URL.Query().Get("name"),
		Tag:    r.URL.Query().Get("tag"),
		Status: r.URL.Query().Get("status"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %q", raw), requestID)
			return
		}
		filter.Limit = limit
	}

	records, err := h.srv.ListDatasets(r.Context(), filter)
	if err != nil {
		writeDatashedError(w, err, requestID)
		return
	}

	resp := ListResponse{
		Datasets:  make([]DatasetResponse, 0, len(records)),
		Count:     len(records),
		RequestID: requestID,
	}
	for _, record := range records {
		resp.Datasets = append(resp.Datasets, datasetResponse(record))
	}

	writeJSON(w, http.StatusOK, resp)
}

// DatasetHandler handles requests under /v1/datasets/{uid}: the record
// itself, its tags, and a row preview.
type DatasetHandler struct {
	srv *server.Server
}

// NewDatasetHandler creates a dataset handler.
func NewDatasetHandler(srv *server.Server) *DatasetHandler {
	return &DatasetHandler{srv: srv}
}

// ServeHTTP dispatches on the path below the prefix.
func (h *DatasetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, datasetsPrefix), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "dataset uid is required", requestID)
		return
	}
	uid, sub, _ := strings.Cut(rest, "/")

	switch sub {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, uid, requestID)
		case http.MethodPatch:
			h.update(w, r, uid, requestID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		}
	case "tags":
		switch r.Method {
		case http.MethodPost:
			h.tags(w, r, uid, requestID, h.srv.AddDatasetTags)
		case http.MethodDelete:
			h.tags(w, r, uid, requestID, h.srv.RemoveDatasetTags)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		}
	case "rows":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
			return
		}
		h.rows(w, r, uid, requestID)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown resource %q", sub), requestID)
	}
}

func (h *DatasetHandler) get(w http.ResponseWriter, r *http.Request, uid, requestID string) {
	record, err := h.srv.GetDataset(r.Context(), uid)
	if err != nil {
		writeDatashedError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, datasetResponse(record))
}

func (h *DatasetHandler) update(w http.ResponseWriter, r *http.Request, uid, requestID string) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.Name == nil && req.Description == nil && req.Favorite == nil {
		writeError(w, http.StatusBadRequest, "update must set at least one field", requestID)
		return
	}

	record, err := h.srv.UpdateDataset(r.Context(), uid, catalog.Patch{
		Name:        req.Name,
		Description: req.Description,
		Favorite:    req.Favorite,
	})
	if err != nil {
		writeDatashedError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, datasetResponse(record))
}

func (h *DatasetHandler) tags(w http.ResponseWriter, r *http.Request, uid, requestID string,
	op func(context.Context, string, []string) (*catalog.Record, error)) {

	var req TagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if len(req.Tags) == 0 {
		writeError(w, http.StatusBadRequest, "tags must not be empty", requestID)
		return
	}

	record, err := op(r.Context(), uid, req.Tags)
	if err != nil {
		writeDatashedError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, datasetResponse(record))
}

func (h *DatasetHandler) rows(w http.ResponseWriter, r *http.Request, uid, requestID string) {
	limit := DefaultPreviewRows
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %q", raw), requestID)
			return
		}
		limit = n
	}

	reader, record, err := h.srv.OpenDataset(r.Context(), uid)
	if err != nil {
		writeDatashedError(w, err, requestID)
		return
	}
	defer reader.Release()

	rows, err := reader.Head(limit)
	if err != nil {
		writeDatashedError(w, err, requestID)
		return
	}

	resp := RowsResponse{
		UID:       record.UID,
		Schema:    []ColumnResponse{},
		Rows:      make([]map[string]interface{}, 0, len(rows)),
		TotalRows: reader.NumRows(),
		RequestID: requestID,
	}
	if s := reader.Schema(); s != nil {
		for _, col := range s.Columns() {
			resp.Schema = append(resp.Schema, ColumnResponse{Name: col.Name, Type: col.Type.String()})
		}
	}
	for _, row := range rows {
		resp.Rows = append(resp.Rows, jsonRow(row))
	}

	writeJSON(w, http.StatusOK, resp)
}

// jsonRow converts a decoded row into a JSON-encodable map.
func jsonRow(row types.Row) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for _, cell := range row {
		out[cell.Name] = jsonValue(cell.Value)
	}
	return out
}

// jsonValue converts a value into its JSON representation. Complex numbers
// become {"real","imag"} objects; traces carry their step layout.
func jsonValue(v types.Value) interface{} {
	switch v.Kind() {
	case types.KindInt64:
		return v.AsInt()
	case types.KindFloat64:
		return v.AsFloat()
	case types.KindBool:
		return v.AsBool()
	case types.KindString:
		return v.AsString()
	case types.KindComplex128:
		return jsonComplex(v.AsComplex())
	case types.KindList:
		return jsonList(v.AsList())
	case types.KindTrace:
		return jsonTrace(v.AsTrace())
	default:
		return nil
	}
}

func jsonComplex(c complex128) map[string]interface{} {
	return map[string]interface{}{"real": real(c), "imag": imag(c)}
}

func jsonList(l *types.List) []interface{} {
	out := make([]interface{}, l.Len())
	elem := l.Elem()
	for i := range out {
		switch elem {
		case types.KindInt64:
			out[i] = l.IntAt(i)
		case types.KindFloat64:
			out[i] = l.FloatAt(i)
		case types.KindBool:
			out[i] = l.BoolAt(i)
		case types.KindString:
			out[i] = l.StrAt(i)
		}
	}
	return out
}

func jsonTrace(tr *types.Trace) map[string]interface{} {
	out := map[string]interface{}{"step": tr.Step().String()}
	switch tr.Step() {
	case types.StepFixed:
		out["x0"] = tr.X0()
		out["dx"] = tr.Dx()
	case types.StepVariable:
		out["xs"] = tr.Xs()
	}
	if cs := tr.Cs(); cs != nil {
		values := make([]interface{}, len(cs))
		for i, c := range cs {
			values[i] = jsonComplex(c)
		}
		out["values"] = values
	} else {
		out["values"] = tr.Ys()
	}
	return out
}
