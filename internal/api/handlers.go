package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"keepwarm/internal/logger"
	"keepwarm/internal/models"
	"keepwarm/internal/notifier"
	"keepwarm/internal/records"
	"keepwarm/internal/service"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	svc *service.Service
	log *zap.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(svc *service.Service, log *zap.Logger) *Handlers {
	return &Handlers{svc: svc, log: log}
}

// targetRequest accepts "type" as an alias for "mode".
type targetRequest struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Mode   string `json:"mode"`
	Type   string `json:"type"`
	Active *bool  `json:"active,omitempty"`
}

func (r targetRequest) input() models.TargetInput {
	mode := r.Mode
	if mode == "" {
		mode = r.Type
	}
	return models.TargetInput{URL: r.URL, Name: r.Name, Mode: mode, Active: r.Active}
}

// ListTargets returns both partitions.
func (h *Handlers) ListTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListTargets())
}

// CreateTarget adds one target.
func (h *Handlers) CreateTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.svc.CreateTarget(r.Context(), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "url": t})
}

// CreateTargetsBatch adds many targets. A partially valid batch commits the
// valid items and answers 400 with both lists.
func (h *Handlers) CreateTargetsBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URLs []targetRequest `json:"urls"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	items := make([]models.TargetInput, 0, len(req.URLs))
	for _, u := range req.URLs {
		items = append(items, u.input())
	}

	res, err := h.svc.CreateTargetsBatch(r.Context(), items)
	switch {
	case errors.Is(err, records.ErrPartialBatch):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   err.Error(),
			"added":   res.Added,
			"errors":  res.Errors,
		})
	case err != nil:
		h.writeError(w, r, err)
	default:
		writeJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"added":   res.Added,
			"errors":  res.Errors,
		})
	}
}

// DeleteTarget removes a target. Unknown ids still succeed.
func (h *Handlers) DeleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := h.targetID(w, r)
	if !ok {
		return
	}
	h.svc.DeleteTarget(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// SetTargetActive flips a target's active flag.
func (h *Handlers) SetTargetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.targetID(w, r)
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Active == nil {
		h.writeError(w, r, &records.ValidationError{Field: "active", Reason: "is required"})
		return
	}
	t, err := h.svc.SetTargetActive(r.Context(), id, *req.Active)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": t})
}

// EditTarget replaces a target's url, name and mode.
func (h *Handlers) EditTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := h.targetID(w, r)
	if !ok {
		return
	}
	var req targetRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.svc.EditTarget(r.Context(), id, req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": t})
}

// ListLogs returns one page of access logs. Bad paging values fall back to
// the defaults.
func (h *Handlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	writeJSON(w, http.StatusOK, h.svc.ListLogs(page, limit))
}

// ClearLogs empties the access log.
func (h *Handlers) ClearLogs(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearLogs(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// NotifierStatus reports the alerting config.
func (h *Handlers) NotifierStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.NotifierStatus())
}

// SetNotifierConfig stores alert credentials and sends a test message.
func (h *Handlers) SetNotifierConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID   string `json:"chatId"`
		BotToken string `json:"botToken"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.SetNotifierConfig(r.Context(), req.ChatID, req.BotToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": h.svc.NotifierStatus()})
}

// ClearNotifierConfig forgets the alert credentials.
func (h *Handlers) ClearNotifierConfig(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearNotifierConfig(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": h.svc.NotifierStatus()})
}

// EnableNotifier resumes alert delivery.
func (h *Handlers) EnableNotifier(w http.ResponseWriter, r *http.Request) {
	h.svc.SetNotifierPush(r.Context(), true)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": h.svc.NotifierStatus()})
}

// DisableNotifier pauses alert delivery.
func (h *Handlers) DisableNotifier(w http.ResponseWriter, r *http.Request) {
	h.svc.SetNotifierPush(r.Context(), false)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": h.svc.NotifierStatus()})
}

// Healthz reports liveness and scheduler state.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health())
}

func (h *Handlers) targetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, r, &records.ValidationError{Field: "id", Reason: "must be an integer"})
		return 0, false
	}
	return id, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.writeError(w, r, &records.ValidationError{Field: "body", Reason: "is not valid JSON"})
		return false
	}
	return true
}

type statusCoder interface {
	StatusCode() int
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	var sc statusCoder
	switch {
	case errors.As(err, &sc):
		code = sc.StatusCode()
	case errors.Is(err, notifier.ErrDeliveryTestFailed):
		code = http.StatusBadGateway
	}
	if code >= http.StatusInternalServerError {
		logger.FromContext(r.Context(), h.log).Error("request failed", zap.Error(err))
	}
	writeJSON(w, code, map[string]any{"success": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
