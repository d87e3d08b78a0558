// Package handlers provides HTTP handlers for experiment operations.
//
// The execution environment authenticates callers; handlers only read
// the asserted identity from the X-Caller-Address header and pass it
// down. No authentication happens here.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/apothes/labledger/internal/domain"
	"github.com/apothes/labledger/internal/modules/experiments"
)

// callerHeader carries the authenticated caller identity
const callerHeader = "X-Caller-Address"

// Handler handles experiment HTTP requests
type Handler struct {
	service *experiments.Service
	log     zerolog.Logger
}

// NewHandler creates a new experiments handler
func NewHandler(service *experiments.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "experiments").Logger(),
	}
}

// Request/response shapes

type createRequest struct {
	CostMin int64 `json:"cost_min"`
	CostMax int64 `json:"cost_max"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type betRequest struct {
	Amount0 int64 `json:"amount0"`
	Amount1 int64 `json:"amount1"`
}

type participantsRequest struct {
	Participants []string `json:"participants"`
}

type resultRequest struct {
	Outcome string `json:"outcome"`
}

// HandleCreate handles POST /api/experiments
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.service.Create(caller, req.CostMin, req.CostMax)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": map[string]interface{}{"id": id},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleList handles GET /api/experiments
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	experimentsList, err := h.service.ListExperiments()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list experiments")
		http.Error(w, "Failed to list experiments", http.StatusInternalServerError)
		return
	}

	if experimentsList == nil {
		experimentsList = []domain.Experiment{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"experiments": experimentsList,
			"count":       len(experimentsList),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGet handles GET /api/experiments/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	exp, err := h.service.GetExperiment(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": exp,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetOdds handles GET /api/experiments/{id}/odds
// Reports the implied parimutuel odds per side: pool divided by the
// side's total (zero when the side is empty).
func (h *Handler) HandleGetOdds(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	exp, err := h.service.GetExperiment(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	pool := exp.Pool()
	odds0, odds1 := 0.0, 0.0
	if exp.TotalBet0 > 0 {
		odds0 = float64(pool) / float64(exp.TotalBet0)
	}
	if exp.TotalBet1 > 0 {
		odds1 = float64(pool) / float64(exp.TotalBet1)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"experiment_id": exp.ID,
			"pool":          pool,
			"total_bet0":    exp.TotalBet0,
			"total_bet1":    exp.TotalBet1,
			"odds0":         odds0,
			"odds1":         odds1,
			"outcome":       exp.Outcome.String(),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetPosition handles GET /api/experiments/{id}/positions/{participant}
func (h *Handler) HandleGetPosition(w http.ResponseWriter, r *http.Request, idStr, participant string) {
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	pos, err := h.service.GetPosition(id, participant)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": pos,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleListFunded handles GET /api/participants/{address}/funded
func (h *Handler) HandleListFunded(w http.ResponseWriter, r *http.Request, participant string) {
	funded, err := h.service.ListFundedBy(participant)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list funded experiments")
		http.Error(w, "Failed to list funded experiments", http.StatusInternalServerError)
		return
	}

	if funded == nil {
		funded = []domain.FundedExperiment{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"participant": participant,
			"funded":      funded,
			"count":       len(funded),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleDeposit handles POST /api/experiments/{id}/deposit
func (h *Handler) HandleDeposit(w http.ResponseWriter, r *http.Request, idStr string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.Deposit(caller, id, req.Amount); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeOK(w)
}

// HandleUndeposit handles POST /api/experiments/{id}/undeposit
func (h *Handler) HandleUndeposit(w http.ResponseWriter, r *http.Request, idStr string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	if err := h.service.Undeposit(caller, id); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeOK(w)
}

// HandleBet handles POST /api/experiments/{id}/bet
func (h *Handler) HandleBet(w http.ResponseWriter, r *http.Request, idStr string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	var req betRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.Bet(caller, id, req.Amount0, req.Amount1); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeOK(w)
}

// HandleUnbet handles POST /api/experiments/{id}/unbet
func (h *Handler) HandleUnbet(w http.ResponseWriter, r *http.Request, idStr string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	if err := h.service.Unbet(caller, id); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeOK(w)
}

// HandleClaim handles POST /api/experiments/{id}/claim
func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request, idStr string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	payout, err := h.service.ClaimProfit(caller, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"payout": payout},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleWithdraw handles POST /api/experiments/{id}/withdraw
func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request, idStr string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	if err := h.service.AdminWithdraw(caller, id); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeOK(w)
}

// HandleClose handles POST /api/experiments/{id}/close
func (h *Handler) HandleClose(w http.ResponseWriter, r *http.Request, idStr string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	if err := h.service.AdminClose(caller, id); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeOK(w)
}

// HandleRefund handles POST /api/experiments/{id}/refund
func (h *Handler) HandleRefund(w http.ResponseWriter, r *http.Request, idStr string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	var req participantsRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.AdminRefund(caller, id, req.Participants); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeOK(w)
}

// HandleReturnBets handles POST /api/experiments/{id}/return-bets
func (h *Handler) HandleReturnBets(w http.ResponseWriter, r *http.Request, idStr string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	var req participantsRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.AdminReturnBet(caller, id, req.Participants); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeOK(w)
}

// HandleSetResult handles POST /api/experiments/{id}/result
func (h *Handler) HandleSetResult(w http.ResponseWriter, r *http.Request, idStr string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	var req resultRequest
	if !h.decode(w, r, &req) {
		return
	}

	var outcome domain.Outcome
	switch req.Outcome {
	case "side0":
		outcome = domain.OutcomeSide0
	case "side1":
		outcome = domain.OutcomeSide1
	default:
		h.writeError(w, experiments.ErrInvalidOutcome)
		return
	}

	if err := h.service.AdminSetResult(caller, id, outcome); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeOK(w)
}

// Helpers

// caller extracts the authenticated caller identity from the request
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := r.Header.Get(callerHeader)
	if caller == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": map[string]interface{}{
				"code":    "MISSING_CALLER",
				"message": "missing " + callerHeader + " header",
			},
		})
		return "", false
	}
	return caller, true
}

func (h *Handler) parseID(w http.ResponseWriter, idStr string) (int64, bool) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id < 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": map[string]interface{}{
				"code":    "INVALID_ID",
				"message": "invalid experiment id",
			},
		})
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": map[string]interface{}{
				"code":    "INVALID_BODY",
				"message": "invalid request body",
			},
		})
		return false
	}
	return true
}

// statusOf maps operation errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, experiments.ErrRoleMismatch):
		return http.StatusForbidden
	case errors.Is(err, experiments.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, experiments.ErrInvalidBounds),
		errors.Is(err, experiments.ErrBelowMinimum),
		errors.Is(err, experiments.ErrExceedsCap),
		errors.Is(err, experiments.ErrZeroBet),
		errors.Is(err, experiments.ErrInvalidOutcome),
		errors.Is(err, experiments.ErrAmountOverflow):
		return http.StatusBadRequest
	case errors.Is(err, experiments.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, experiments.ErrMarketClosed),
		errors.Is(err, experiments.ErrMarketOpen),
		errors.Is(err, experiments.ErrResultAlreadySet),
		errors.Is(err, experiments.ErrResultNotSet),
		errors.Is(err, experiments.ErrWinningSideEmpty),
		errors.Is(err, experiments.ErrOutstandingBalances),
		errors.Is(err, experiments.ErrGoalNotReached),
		errors.Is(err, experiments.ErrNoWinningBet),
		errors.Is(err, experiments.ErrTimeoutNotElapsed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Operation failed")
	}

	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    experiments.Code(err),
			"message": err.Error(),
		},
	})
}

func (h *Handler) writeOK(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"ok": true},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
