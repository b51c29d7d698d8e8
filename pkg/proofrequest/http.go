package proofrequest

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/proof-portal/pkg/common/logger"
	"github.com/synaptica-ai/proof-portal/pkg/gateway/middleware"
)

type HandlerConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

type Handler struct {
	service *Service
	cfg     HandlerConfig
}

func NewHandler(service *Service, cfg HandlerConfig) *Handler {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = DefaultPageSize
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	return &Handler{service: service, cfg: cfg}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/proof-requests", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/proof-requests", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/proof-requests/stats", h.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/proof-requests/export", h.handleExportMatching).Methods(http.MethodGet)
	r.HandleFunc("/proof-requests/from-template", h.handleCreateFromTemplate).Methods(http.MethodPost)
	r.HandleFunc("/proof-requests/bulk", h.handleBulk).Methods(http.MethodPost)
	r.HandleFunc("/proof-requests/expire", h.handlePersistExpired).Methods(http.MethodPost)
	r.HandleFunc("/proof-requests/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/proof-requests/{id}/transitions", h.handleTransition).Methods(http.MethodPost)
	r.HandleFunc("/proof-templates", h.handleListTemplates).Methods(http.MethodGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := h.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	page, err := h.service.Query(r.Context(), params)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list proof requests")
		writeError(w, http.StatusInternalServerError, "internal", "failed to list proof requests")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Stats(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to compute proof request stats")
		writeError(w, http.StatusInternalServerError, "internal", "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err, "failed to get proof request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"proofRequest": view})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var draft Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	rec, err := h.service.Create(r.Context(), draft, resolveActor(r))
	if err != nil {
		writeServiceError(w, err, "failed to create proof request")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"proofRequest": rec})
}

type createFromTemplateRequest struct {
	TemplateID string            `json:"templateId"`
	Overrides  TemplateOverrides `json:"overrides"`
}

func (h *Handler) handleCreateFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req createFromTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.TemplateID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "templateId is required")
		return
	}
	rec, err := h.service.CreateFromTemplate(r.Context(), req.TemplateID, req.Overrides, resolveActor(r))
	if err != nil {
		writeServiceError(w, err, "failed to create proof request")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"proofRequest": rec})
}

type transitionRequest struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	event, err := ParseEvent(req.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_event", err.Error())
		return
	}
	rec, err := h.service.Transition(r.Context(), mux.Vars(r)["id"], event, resolveActor(r), req.Reason)
	if err != nil {
		writeServiceError(w, err, "failed to apply transition")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"proofRequest": rec})
}

type bulkRequest struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids"`
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	action, err := ParseBulkAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_action", err.Error())
		return
	}
	result, err := h.service.BulkApply(r.Context(), action, req.IDs, resolveActor(r))
	if err != nil {
		writeServiceError(w, err, "failed to apply bulk action")
		return
	}
	if action == BulkExport && r.URL.Query().Get("format") == "csv" {
		writeCSV(w, result.Records)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleExportMatching exports every record matching the list filters, so
// the exported rows always equal the list's filteredCount.
func (h *Handler) handleExportMatching(w http.ResponseWriter, r *http.Request) {
	params, err := h.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	views, err := h.service.Matching(r.Context(), params)
	if err != nil {
		logger.Log.WithError(err).Error("failed to export proof requests")
		writeError(w, http.StatusInternalServerError, "internal", "failed to export proof requests")
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		writeCSV(w, views)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": views, "count": len(views)})
}

func (h *Handler) handlePersistExpired(w http.ResponseWriter, r *http.Request) {
	expired, err := h.service.PersistExpired(r.Context(), resolveActor(r))
	if err != nil {
		logger.Log.WithError(err).Error("failed to persist expired proof requests")
		writeError(w, http.StatusInternalServerError, "internal", "failed to persist expiry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": expired, "count": len(expired)})
}

func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": h.service.Templates()})
}

func (h *Handler) parseQuery(r *http.Request) (QueryParams, error) {
	q := r.URL.Query()
	params := DefaultQuery()
	params.PageSize = h.cfg.DefaultPageSize
	params.Search = q.Get("search")

	if raw := q.Get("status"); raw != "" && raw != FilterAll {
		if _, err := ParseStatus(raw); err != nil {
			return QueryParams{}, err
		}
		params.StatusFilter = raw
	}
	if raw := q.Get("urgency"); raw != "" && raw != FilterAll {
		if _, err := ParseUrgency(raw); err != nil {
			return QueryParams{}, err
		}
		params.UrgencyFilter = raw
	}
	if raw := q.Get("sort"); raw != "" {
		key, err := ParseSortKey(raw)
		if err != nil {
			return QueryParams{}, err
		}
		params.SortKey = key
	}
	if raw := q.Get("direction"); raw != "" {
		dir, err := ParseSortDirection(raw)
		if err != nil {
			return QueryParams{}, err
		}
		params.SortDirection = dir
	}
	if raw := q.Get("page"); raw != "" {
		v, err := parsePositive("page", raw)
		if err != nil {
			return QueryParams{}, err
		}
		params.Page = v
	}
	if raw := q.Get("pageSize"); raw != "" {
		v, err := parsePositive("pageSize", raw)
		if err != nil {
			return QueryParams{}, err
		}
		params.PageSize = min(v, h.cfg.MaxPageSize)
	}
	return params, nil
}

func parsePositive(name, raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return v, nil
}

func resolveActor(r *http.Request) string {
	if r == nil {
		return "system"
	}
	if actor := middleware.ActorFromContext(r.Context()); actor != "" {
		return actor
	}
	return "system"
}

func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var validationErr *ValidationError
	var transitionErr *InvalidTransitionError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, string(validationErr.Code), validationErr.Error())
	case errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, ReasonInvalidTransition, transitionErr.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, ReasonNotFound, err.Error())
	case errors.Is(err, ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, "template_not_found", err.Error())
	case errors.Is(err, ErrDuplicateID):
		writeError(w, http.StatusConflict, "duplicate_id", err.Error())
	case errors.Is(err, ErrUnknownEvent), errors.Is(err, ErrUnknownAction):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		logger.Log.WithError(err).Error(fallback)
		writeError(w, http.StatusInternalServerError, "internal", fallback)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var csvHeader = []string{"id", "patient_id", "patient_name", "patient_email", "purpose", "requested_fields", "urgency", "status", "created_at", "expires_at"}

func writeCSV(w http.ResponseWriter, views []View) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="proof-requests.csv"`)
	w.WriteHeader(http.StatusOK)

	out := csv.NewWriter(w)
	if err := out.Write(csvHeader); err != nil {
		logger.Log.WithError(err).Warn("failed to write csv export")
		return
	}
	for _, v := range views {
		expires := ""
		if v.ExpiresAt != nil {
			expires = v.ExpiresAt.Format(time.RFC3339)
		}
		err := out.Write([]string{
			v.ID,
			v.Patient.ID,
			v.Patient.Name,
			v.Patient.Email,
			v.Purpose,
			strings.Join(v.RequestedFields, ";"),
			string(v.Urgency),
			string(v.EffectiveStatus),
			v.CreatedAt.Format(time.RFC3339),
			expires,
		})
		if err != nil {
			logger.Log.WithError(err).Warn("failed to write csv export")
			return
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		logger.Log.WithError(err).Warn("failed to flush csv export")
	}
}
