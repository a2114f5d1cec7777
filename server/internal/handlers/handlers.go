package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zhaobenny/clawtop/internal/metrics"
	"github.com/zhaobenny/clawtop/internal/model"
	"github.com/zhaobenny/clawtop/internal/store"
)

// Querier answers the read-only metric queries
type Querier interface {
	LiveMetrics(ctx context.Context, scope store.Scope) (model.LiveMetrics, error)
	Rollups(ctx context.Context, labels []string) ([]model.Rollup, error)
}

// MarkerLister lists recorded reset markers
type MarkerLister interface {
	ListResetMarkers(ctx context.Context, limit int) ([]model.ResetMarker, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	engine  Querier
	markers MarkerLister
	logger  *slog.Logger
}

// New creates a new Handler
func New(engine Querier, markers MarkerLister, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:  engine,
		markers: markers,
		logger:  logger,
	}
}

// Register mounts the API routes on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/live", h.Live)
	mux.HandleFunc("GET /api/rollups", h.Rollups)
	mux.HandleFunc("GET /api/resets", h.Resets)
	mux.HandleFunc("GET /healthz", h.Health)
}

// errorResponse is the body of every failed request
type errorResponse struct {
	Error string `json:"error"`
}

// Live returns the latest sample with derived rates.
// ?session=<key> selects one session, ?nosession=1 the "no session" samples.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	scope := store.AllSessions()
	q := r.URL.Query()
	if q.Has("session") {
		key := q.Get("session")
		scope = store.Session(&key)
	} else if v, _ := strconv.ParseBool(q.Get("nosession")); v {
		scope = store.Session(nil)
	}

	live, err := h.engine.LiveMetrics(r.Context(), scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, live)
}

// Rollups returns one rollup per label of ?windows=1d,3d,7d in request order.
func (h *Handler) Rollups(w http.ResponseWriter, r *http.Request) {
	var labels []string
	for _, part := range strings.Split(r.URL.Query().Get("windows"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			labels = append(labels, part)
		}
	}

	rollups, err := h.engine.Rollups(r.Context(), labels)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rollups)
}

// Resets lists the newest reset markers, ?limit=N (default 50).
func (h *Handler) Resets(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	markers, err := h.markers.ListResetMarkers(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if markers == nil {
		markers = []model.ResetMarker{}
	}
	h.writeJSON(w, http.StatusOK, markers)
}

// Health reports that the server is up
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, metrics.ErrInvalidWindow):
		status = http.StatusBadRequest
	case errors.Is(err, metrics.ErrNoSamples):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("query failed", "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response failed", "error", err)
	}
}
