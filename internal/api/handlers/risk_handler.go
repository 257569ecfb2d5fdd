package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"riskengine/internal/repository"
	"riskengine/internal/service"
)

// RiskHandler обрабатывает HTTP запросы к состояниям риска и журналу событий.
//
// Endpoints:
// - GET /api/v1/risk/states - список активных состояний (фильтры в query)
// - GET /api/v1/risk/states/{account_id}/{figi} - состояние одной позиции
// - PATCH /api/v1/risk/states/{account_id}/{figi} - ручное изменение параметров
// - GET /api/v1/risk/events - журнал событий (фильтры в query)
type RiskHandler struct {
	riskService service.RiskServiceInterface
}

// NewRiskHandler создает новый RiskHandler с внедрением зависимостей
func NewRiskHandler(riskService service.RiskServiceInterface) *RiskHandler {
	return &RiskHandler{riskService: riskService}
}

// ListStates возвращает активные состояния риска.
//
// GET /api/v1/risk/states?account_id=...&figi=...&with_stop=true&with_take=true
func (h *RiskHandler) ListStates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.ListStatesRequest{
		AccountID: q.Get("account_id"),
		FIGI:      q.Get("figi"),
		WithStop:  q.Get("with_stop") == "true",
		WithTake:  q.Get("with_take") == "true",
	}

	states, err := h.riskService.ListStates(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid filter", err)
		return
	}
	respondJSON(w, http.StatusOK, states)
}

// GetState возвращает состояние риска одной позиции.
//
// GET /api/v1/risk/states/{account_id}/{figi}
func (h *RiskHandler) GetState(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	state, err := h.riskService.GetState(vars["account_id"], vars["figi"])
	if err != nil {
		if errors.Is(err, repository.ErrStateNotFound) {
			respondError(w, http.StatusNotFound, "state not found", nil)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to get state", err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// UpdateState применяет ручные параметры риска к позиции.
//
// PATCH /api/v1/risk/states/{account_id}/{figi}
//
// Request body:
//
//	{
//	  "stop_loss_pct": "0.03",
//	  "take_profit_pct": "0.09",
//	  "trailing_type": "PERCENT",
//	  "trailing_pct": "0.02",
//	  "clear_stop_loss": false,
//	  "clear_take_profit": false
//	}
func (h *RiskHandler) UpdateState(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req service.UpdateStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	state, err := h.riskService.UpdateState(vars["account_id"], vars["figi"], &req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStateNotFound):
			respondError(w, http.StatusNotFound, "state not found", nil)
		case errors.Is(err, repository.ErrRepositoryUnavailable):
			respondError(w, http.StatusServiceUnavailable, "storage unavailable", err)
		default:
			respondError(w, http.StatusBadRequest, "failed to update state", err)
		}
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// ListEvents возвращает журнал событий риска, новые первыми.
//
// GET /api/v1/risk/events?account_id=...&figi=...&since=RFC3339&limit=50
func (h *RiskHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.ListEventsRequest{
		AccountID: q.Get("account_id"),
		FIGI:      q.Get("figi"),
	}

	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC3339", err)
			return
		}
		req.Since = t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			respondError(w, http.StatusBadRequest, "limit must be an integer", err)
			return
		}
		req.Limit = n
	}

	events, err := h.riskService.ListEvents(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to list events", err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}
