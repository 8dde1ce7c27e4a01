/*
handlers.go - HTTP API handlers for the resident ledger

ENDPOINTS:
  Residents:
    POST   /api/residents/{id}/init          Write the v0 snapshot (idempotent)
    POST   /api/residents/{id}/charges       Post a charge
    POST   /api/residents/{id}/payments      Apply a payment
    POST   /api/residents/{id}/credits       Apply a credit
    POST   /api/residents/{id}/refunds       Apply a refund
    POST   /api/residents/{id}/chargebacks   Apply a chargeback
    POST   /api/residents/{id}/late-fees     Apply a late fee
    GET    /api/residents/{id}/balance       Rebuilt balance and open items
    GET    /api/residents/{id}/version       Current version
    GET    /api/residents/{id}/history       Records after ?after=, ?limit=

REQUEST FLOW:
  1. Parse HTTP request
  2. Build the event payload (constructors apply the sign convention)
  3. Call the ledger
  4. Serialize response

ERROR HANDLING:
  - 400: invalid payload or resident id
  - 409: optimistic-locking retries exhausted; the client may retry
  - 501: history on a store that cannot range forward
  - 500: everything else
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/resident-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *ledger.Ledger
	Currency string

	HistoryDefaultLimit int
	HistoryMaxLimit     int

	Logger *slog.Logger
}

// NewHandler creates a handler with default paging and USD.
func NewHandler(l *ledger.Ledger) *Handler {
	return &Handler{
		Ledger:              l,
		Currency:            "USD",
		HistoryDefaultLimit: 50,
		HistoryMaxLimit:     200,
		Logger:              slog.Default(),
	}
}

func residentID(r *http.Request) ledger.AccountID {
	return ledger.AccountID(chi.URLParam(r, "id"))
}

// =============================================================================
// WRITE HANDLERS
// =============================================================================

// InitResident writes the empty baseline snapshot for a resident.
func (h *Handler) InitResident(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.EnsureInitialized(r.Context(), residentID(r)); err != nil {
		h.writeLedgerError(w, "Failed to initialize resident", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostCharge posts a charge. The resident is initialized first so the
// partition always starts with a v0 snapshot.
func (h *Handler) PostCharge(w http.ResponseWriter, r *http.Request) {
	var req ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	chargeType, err := ledger.ParseChargeType(req.ChargeType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid chargeType", err)
		return
	}

	account := residentID(r)
	if err := h.Ledger.EnsureInitialized(r.Context(), account); err != nil {
		h.writeLedgerError(w, "Failed to initialize resident", err)
		return
	}

	payload := ledger.ChargePosted(int64(req.Amount), chargeType, ledger.Metadata{
		Description: req.Description,
		ReferenceID: req.ReferenceID,
		PropertyID:  req.PropertyID,
		State:       req.State,
	})
	h.append(w, r, account, payload)
}

// PostPayment applies a payment.
func (h *Handler) PostPayment(w http.ResponseWriter, r *http.Request) {
	h.postAmount(w, r, ledger.PaymentApplied)
}

// PostCredit applies a credit.
func (h *Handler) PostCredit(w http.ResponseWriter, r *http.Request) {
	h.postAmount(w, r, ledger.CreditApplied)
}

// PostRefund applies a refund.
func (h *Handler) PostRefund(w http.ResponseWriter, r *http.Request) {
	h.postAmount(w, r, ledger.RefundApplied)
}

// PostChargeback applies a chargeback.
func (h *Handler) PostChargeback(w http.ResponseWriter, r *http.Request) {
	h.postAmount(w, r, ledger.ChargebackApplied)
}

// PostLateFee applies a late fee.
func (h *Handler) PostLateFee(w http.ResponseWriter, r *http.Request) {
	h.postAmount(w, r, ledger.LateFeeApplied)
}

func (h *Handler) postAmount(w http.ResponseWriter, r *http.Request, build func(int64, ledger.Metadata) ledger.EventPayload) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.append(w, r, residentID(r), build(int64(req.Amount), req.metadata()))
}

func (h *Handler) append(w http.ResponseWriter, r *http.Request, account ledger.AccountID, payload ledger.EventPayload) {
	v, err := h.Ledger.AppendEvent(r.Context(), account, payload)
	if err != nil {
		h.writeLedgerError(w, "Failed to append event", err)
		return
	}
	writeJSON(w, http.StatusCreated, VersionDTO{Version: int64(v)})
}

// =============================================================================
// READ HANDLERS
// =============================================================================

// GetBalance rebuilds and returns the resident's state.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := residentID(r)
	state, err := h.Ledger.RebuildState(r.Context(), account)
	if err != nil {
		h.writeLedgerError(w, "Failed to rebuild balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(account, h.Currency, state))
}

// GetVersion returns the resident's current version.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.Ledger.GetVersion(r.Context(), residentID(r))
	if err != nil {
		h.writeLedgerError(w, "Failed to read version", err)
		return
	}
	writeJSON(w, http.StatusOK, VersionDTO{Version: int64(v)})
}

// GetHistory pages through a resident's records in version order.
// Query: after (exclusive version, default -1 so v0 is included), limit.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	after := ledger.Version(-1)
	if s := r.URL.Query().Get("after"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < -1 {
			writeError(w, http.StatusBadRequest, "Invalid after", err)
			return
		}
		after = ledger.Version(n)
	}

	limit := h.HistoryDefaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = min(n, h.HistoryMaxLimit)
	}

	records, err := h.Ledger.History(r.Context(), residentID(r), after, limit)
	if err != nil {
		h.writeLedgerError(w, "Failed to read history", err)
		return
	}

	resp := HistoryDTO{Records: make([]RecordDTO, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, toRecordDTO(rec))
	}
	if len(records) == limit {
		next := int64(records[len(records)-1].Version)
		resp.Next = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) writeLedgerError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, ledger.ErrHistoryUnsupported):
		writeError(w, http.StatusNotImplemented, message, err)
	default:
		h.Logger.Error(message, "err", err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
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
