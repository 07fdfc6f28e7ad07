package http

import (
	"net/http"
	"time"

	"github.com/datashed/datashed/internal/observability"
	"github.com/datashed/datashed/internal/server"
)

// StatsHandler handles GET /v1/stats requests.
type StatsHandler struct {
	srv *server.Server
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(srv *server.Server) *StatsHandler {
	return &StatsHandler{srv: srv}
}

// StatsResponse is the response of GET /v1/stats.
type StatsResponse struct {
	State      string                `json:"state"`
	Counters   observability.Snapshot `json:"counters"`
	TopWriters []WriterResponse      `json:"top_writers"`
	RequestID  string                `json:"request_id"`
}

// WriterResponse is the wire shape of one active writer entry.
type WriterResponse struct {
	UID       string    `json:"uid"`
	Rows      int64     `json:"rows"`
	Records   int64     `json:"records"`
	LastWrite time.Time `json:"last_write"`
}

// ServeHTTP handles the stats HTTP request.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	stats := h.srv.Stats()
	resp := StatsResponse{
		State:      h.srv.State().String(),
		Counters:   stats.Snapshot(),
		TopWriters: []WriterResponse{},
		RequestID:  requestID,
	}
	for _, ws := range stats.TopWriters(10) {
		resp.TopWriters = append(resp.TopWriters, WriterResponse{
			UID:       ws.UID,
			Rows:      ws.Rows,
			Records:   ws.Records,
			LastWrite: ws.LastWrite,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
