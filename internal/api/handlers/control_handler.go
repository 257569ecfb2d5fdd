package handlers

import (
	"errors"
	"net/http"

	"riskengine/internal/broker"
	"riskengine/internal/service"
)

// ControlHandler обрабатывает HTTP запросы аварийного управления движком.
//
// Endpoints:
// - GET /api/v1/control - состояние предохранителя
// - POST /api/v1/control/panic - включить аварийный выключатель
// - DELETE /api/v1/control/panic - выключить аварийный выключатель
// - PUT /api/v1/control/order-limit - изменить лимит ордеров в минуту
// - POST /api/v1/control/cancel-all - отменить все висящие ордера счета
type ControlHandler struct {
	controlService service.ControlServiceInterface
}

// NewControlHandler создает новый ControlHandler с внедрением зависимостей
func NewControlHandler(controlService service.ControlServiceInterface) *ControlHandler {
	return &ControlHandler{controlService: controlService}
}

// GetStatus возвращает состояние предохранителя.
//
// GET /api/v1/control
//
// Response 200 OK:
//
//	{"panic_active": false, "order_limit": 10, "slots_remaining": 7}
func (h *ControlHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.controlService.Status())
}

type panicRequest struct {
	Reason string `json:"reason,omitempty"`
}

// EngagePanic включает аварийный выключатель: новые защитные ордера
// блокируются до явного выключения.
//
// POST /api/v1/control/panic
func (h *ControlHandler) EngagePanic(w http.ResponseWriter, r *http.Request) {
	var req panicRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // тело опционально
	}

	engaged := h.controlService.EngagePanic(req.Reason)
	respondJSON(w, http.StatusOK, map[string]bool{
		"panic_active": true,
		"changed":      engaged,
	})
}

// ReleasePanic выключает аварийный выключатель.
//
// DELETE /api/v1/control/panic
func (h *ControlHandler) ReleasePanic(w http.ResponseWriter, r *http.Request) {
	released := h.controlService.ReleasePanic()
	respondJSON(w, http.StatusOK, map[string]bool{
		"panic_active": false,
		"changed":      released,
	})
}

type orderLimitRequest struct {
	Limit int `json:"limit"`
}

// SetOrderLimit изменяет лимит защитных ордеров в минуту. 0 отключает лимит.
//
// PUT /api/v1/control/order-limit
func (h *ControlHandler) SetOrderLimit(w http.ResponseWriter, r *http.Request) {
	var req orderLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := h.controlService.SetOrderLimit(req.Limit); err != nil {
		respondError(w, http.StatusBadRequest, "invalid order limit", err)
		return
	}
	respondJSON(w, http.StatusOK, h.controlService.Status())
}

type cancelAllRequest struct {
	AccountID string `json:"account_id"`
}

// CancelAll отменяет все висящие у брокера ордера счета.
// Работает и при включенном panic switch.
//
// POST /api/v1/control/cancel-all
func (h *ControlHandler) CancelAll(w http.ResponseWriter, r *http.Request) {
	var req cancelAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := h.controlService.CancelAll(r.Context(), req.AccountID)
	if err != nil {
		if errors.Is(err, broker.ErrUnavailable) {
			respondError(w, http.StatusBadGateway, "broker unavailable", err)
			return
		}
		respondError(w, http.StatusBadRequest, "cancel-all failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
