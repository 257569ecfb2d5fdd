package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"riskengine/internal/repository"
	"riskengine/internal/service"
)

// RuleHandler обрабатывает HTTP запросы к правилам риска и миграции дефолтов.
//
// Endpoints:
// - GET /api/v1/rules?active=true - список правил
// - GET /api/v1/rules/{figi} - правило инструмента
// - PUT /api/v1/rules/{figi} - создать или обновить правило
// - POST /api/v1/rules/migrate - bulk-миграция дефолтов
type RuleHandler struct {
	ruleService      service.RuleServiceInterface
	migrationService service.MigrationServiceInterface
}

// NewRuleHandler создает новый RuleHandler с внедрением зависимостей
func NewRuleHandler(ruleService service.RuleServiceInterface, migrationService service.MigrationServiceInterface) *RuleHandler {
	return &RuleHandler{
		ruleService:      ruleService,
		migrationService: migrationService,
	}
}

// ListRules возвращает правила риска.
//
// GET /api/v1/rules?active=true
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	rules, err := h.ruleService.ListRules(activeOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

// GetRule возвращает правило инструмента.
//
// GET /api/v1/rules/{figi}
func (h *RuleHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	rule, err := h.ruleService.GetRule(vars["figi"])
	if err != nil {
		if errors.Is(err, repository.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", nil)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// UpsertRule создает или обновляет правило инструмента.
//
// PUT /api/v1/rules/{figi}
//
// Request body:
//
//	{
//	  "stop_loss_pct": "0.03",
//	  "take_profit_pct": "0.09",
//	  "active": true
//	}
//
// Уже открытые позиции не затрагиваются: для них используется миграция.
func (h *RuleHandler) UpsertRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req service.UpsertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.FIGI = vars["figi"]

	rule, err := h.ruleService.UpsertRule(&req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to upsert rule", err)
		return
	}

	status := http.StatusOK
	if rule.Version == 1 {
		status = http.StatusCreated
	}
	respondJSON(w, status, rule)
}

// Migrate переводит правила и RULE-состояния инструмента на новые дефолты.
//
// POST /api/v1/rules/migrate
//
// Request body:
//
//	{
//	  "figi": "BBG004730N88",
//	  "old_stop_loss_pct": "0.02",
//	  "old_take_profit_pct": "0.06",
//	  "new_stop_loss_pct": "0.03",
//	  "new_take_profit_pct": "0.09",
//	  "new_trailing_pct": "0.03"
//	}
//
// Response 200 OK:
//
//	{"rules_updated": 2, "states_updated": 5, "conflicts": 1}
func (h *RuleHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	var req service.MigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := h.migrationService.Migrate(&req)
	if err != nil {
		if errors.Is(err, repository.ErrRepositoryUnavailable) {
			respondError(w, http.StatusServiceUnavailable, "storage unavailable", err)
			return
		}
		respondError(w, http.StatusBadRequest, "migration failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
