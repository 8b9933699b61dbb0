/*
handlers.go - HTTP API handlers for the cashier close workflow

PURPOSE:
  Exposes the reconciliation engine via REST. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.
  The handlers carry no invariants of their own; every rule lives in the
  recon package.

ENDPOINTS:
  Closes:
    POST   /api/closes               Submit a draft close
    GET    /api/closes               Close history (paginated)
    GET    /api/closes/template      Zeroed denomination form
    GET    /api/closes/pending       Approval queue
    GET    /api/closes/{id}          Single close
    POST   /api/closes/{id}/approve  Verify and post to ledger
    POST   /api/closes/{id}/reject   Reject with reason

  Audit:
    GET    /api/audit                Audit event query

ERROR HANDLING:
  Domain errors map onto HTTP status without string matching:
  - 400: validation errors, invalid reason, malformed input
  - 404: unknown close id
  - 409: already pending / already resolved conflicts
  - 502: ledger posting failures (retryable=true in the body)
  - 500: everything else

SEE ALSO:
  - dto.go:    Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/till-engine/recon"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Lifecycle *recon.CloseLifecycle
	Query     *recon.CloseQueryService
	Config    recon.ConfigProvider

	// Audit is optional; when nil the audit endpoint returns 404.
	Audit recon.AuditLog
}

// NewHandler creates a handler with the given collaborators.
func NewHandler(lifecycle *recon.CloseLifecycle, query *recon.CloseQueryService, provider recon.ConfigProvider) *Handler {
	return &Handler{
		Lifecycle: lifecycle,
		Query:     query,
		Config:    provider,
	}
}

// =============================================================================
// CLOSE HANDLERS
// =============================================================================

// SubmitClose validates and persists a draft close.
// POST /api/closes
func (h *Handler) SubmitClose(w http.ResponseWriter, r *http.Request) {
	var req SubmitCloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CashierID == "" {
		writeError(w, http.StatusBadRequest, "cashier_id is required", nil)
		return
	}

	draft, err := req.toDraft()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	cfg, err := h.Config.CounterConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load counter config", err)
		return
	}

	close, err := h.Lifecycle.Submit(r.Context(), draft, cfg)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCloseDTO(close))
}

// GetCloseTemplate returns a zero-count denomination form for the
// configured currency.
// GET /api/closes/template
func (h *Handler) GetCloseTemplate(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Config.CounterConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load counter config", err)
		return
	}

	entries := recon.BuildTemplate(cfg)
	denoms := make([]DenominationDTO, len(entries))
	for i, e := range entries {
		denoms[i] = DenominationDTO{Value: e.Value.String(), Count: 0, Total: "0"}
	}

	modes := make([]string, 0, len(cfg.AccountMappings))
	for mode := range cfg.AccountMappings {
		modes = append(modes, string(mode))
	}

	writeJSON(w, http.StatusOK, TemplateResponse{
		Currency:          cfg.Currency,
		VarianceThreshold: cfg.VarianceThreshold.String(),
		PaymentModes:      modes,
		Denominations:     denoms,
	})
}

// ListPendingCloses returns the approval queue.
// GET /api/closes/pending
func (h *Handler) ListPendingCloses(w http.ResponseWriter, r *http.Request) {
	closes, err := h.Query.ListPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list pending closes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closes": toCloseDTOs(closes)})
}

// GetClose returns a single close.
// GET /api/closes/{id}
func (h *Handler) GetClose(w http.ResponseWriter, r *http.Request) {
	id := recon.CloseID(chi.URLParam(r, "id"))

	close, err := h.Query.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCloseDTO(close))
}

// CloseHistory returns terminal and pending closes, newest first.
// GET /api/closes?cashier_id=&limit=&cursor=
func (h *Handler) CloseHistory(w http.ResponseWriter, r *http.Request) {
	cashierID := recon.CashierID(r.URL.Query().Get("cashier_id"))
	cursor := r.URL.Query().Get("cursor")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	page, err := h.Query.History(r.Context(), cashierID, limit, cursor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to load history", err)
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Closes:     toCloseDTOs(page.Closes),
		NextCursor: page.NextCursor,
	})
}

// ApproveClose posts the close to the ledger and marks it Verified.
// POST /api/closes/{id}/approve
func (h *Handler) ApproveClose(w http.ResponseWriter, r *http.Request) {
	id := recon.CloseID(chi.URLParam(r, "id"))

	close, err := h.Lifecycle.Approve(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCloseDTO(close))
}

// RejectClose marks the close Rejected with a reason.
// POST /api/closes/{id}/reject
func (h *Handler) RejectClose(w http.ResponseWriter, r *http.Request) {
	id := recon.CloseID(chi.URLParam(r, "id"))

	var req RejectCloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	close, err := h.Lifecycle.Reject(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCloseDTO(close))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// QueryAudit returns audit events, oldest first.
// GET /api/audit?close_id=&cashier_id=&limit=
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeError(w, http.StatusNotFound, "Audit log not configured", nil)
		return
	}

	filter := recon.AuditFilter{
		CloseID:   recon.CloseID(r.URL.Query().Get("close_id")),
		CashierID: recon.CashierID(r.URL.Query().Get("cashier_id")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	events, err := h.Audit.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit events", err)
		return
	}

	dtos := make([]AuditEventDTO, len(events))
	for i, e := range events {
		dtos[i] = toAuditEventDTO(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": dtos})
}

// =============================================================================
// HELPERS
// =============================================================================

// writeDomainError maps recon errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var ve *recon.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: ve.Message,
			Code:  string(ve.Code),
		})
		return
	}

	var resolved *recon.AlreadyResolvedError
	if errors.As(err, &resolved) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: resolved.Error(),
			Code:  "already_resolved",
			// Details carries the winning status so the client can
			// refresh its view without another round trip.
			Details: string(resolved.Status),
		})
		return
	}

	switch {
	case errors.Is(err, recon.ErrInvalidReason):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_reason"})
	case errors.Is(err, recon.ErrAlreadyPending):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "already_pending"})
	case errors.Is(err, recon.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Close not found", Code: "not_found"})
	case errors.Is(err, recon.ErrPostingFailed):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:     err.Error(),
			Code:      "posting_failed",
			Retryable: true,
		})
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func badField(field, value string) error {
	return fmt.Errorf("field %s: %q is not a valid decimal amount", field, value)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
