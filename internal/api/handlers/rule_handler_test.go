package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"riskengine/internal/models"
)

func serveRuleRequest(h *RuleHandler, method, url, body string) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	router.HandleFunc("/rules", h.ListRules).Methods("GET")
	router.HandleFunc("/rules/migrate", h.Migrate).Methods("POST")
	router.HandleFunc("/rules/{figi}", h.GetRule).Methods("GET")
	router.HandleFunc("/rules/{figi}", h.UpsertRule).Methods("PUT")

	req := httptest.NewRequest(method, url, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRuleHandlerGetRule(t *testing.T) {
	mockRules := NewMockRuleService()
	mockRules.rules["BBG004730N88"] = &models.RiskRule{
		FIGI:        "BBG004730N88",
		StopLossPct: decPtr("0.03"),
		Active:      true,
		Version:     2,
	}
	handler := NewRuleHandler(mockRules, NewMockMigrationService())

	w := serveRuleRequest(handler, http.MethodGet, "/rules/BBG004730N88", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rule models.RiskRule
	if err := json.NewDecoder(w.Body).Decode(&rule); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rule.Version != 2 {
		t.Errorf("unexpected version: %d", rule.Version)
	}
}

func TestRuleHandlerGetRuleNotFound(t *testing.T) {
	handler := NewRuleHandler(NewMockRuleService(), NewMockMigrationService())

	w := serveRuleRequest(handler, http.MethodGet, "/rules/BBG004730N88", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRuleHandlerUpsertRule(t *testing.T) {
	mockRules := NewMockRuleService()
	handler := NewRuleHandler(mockRules, NewMockMigrationService())

	// Создание - 201
	w := serveRuleRequest(handler, http.MethodPut, "/rules/BBG004730N88",
		`{"stop_loss_pct":"0.03","take_profit_pct":"0.09"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 on create, got %d: %s", w.Code, w.Body.String())
	}
	if mockRules.lastUpsert.FIGI != "BBG004730N88" {
		t.Errorf("figi must come from the URL, got %q", mockRules.lastUpsert.FIGI)
	}

	// Обновление - 200
	w = serveRuleRequest(handler, http.MethodPut, "/rules/BBG004730N88",
		`{"stop_loss_pct":"0.04"}`)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 on update, got %d", w.Code)
	}
}

func TestRuleHandlerUpsertRuleBadBody(t *testing.T) {
	handler := NewRuleHandler(NewMockRuleService(), NewMockMigrationService())

	w := serveRuleRequest(handler, http.MethodPut, "/rules/BBG004730N88", "{bad")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestRuleHandlerMigrate(t *testing.T) {
	mockMigration := NewMockMigrationService()
	mockMigration.result = &models.MigrationResult{
		RulesUpdated:  2,
		StatesUpdated: 5,
		Conflicts:     1,
	}
	handler := NewRuleHandler(NewMockRuleService(), mockMigration)

	w := serveRuleRequest(handler, http.MethodPost, "/rules/migrate",
		`{"figi":"BBG004730N88","old_stop_loss_pct":"0.02","old_take_profit_pct":"0.06","new_stop_loss_pct":"0.03","new_take_profit_pct":"0.09","new_trailing_pct":"0.03"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result models.MigrationResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.StatesUpdated != 5 || result.Conflicts != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
	if !mockMigration.lastReq.NewStopLoss.Equal(dec("0.03")) {
		t.Errorf("new stop loss not passed: %s", mockMigration.lastReq.NewStopLoss)
	}
}

func TestRuleHandlerMigrateError(t *testing.T) {
	mockMigration := NewMockMigrationService()
	mockMigration.migrateErr = ErrMockDatabase
	handler := NewRuleHandler(NewMockRuleService(), mockMigration)

	w := serveRuleRequest(handler, http.MethodPost, "/rules/migrate",
		`{"figi":"BBG004730N88"}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestRuleHandlerListRules(t *testing.T) {
	mockRules := NewMockRuleService()
	mockRules.rules["BBG004730N88"] = &models.RiskRule{FIGI: "BBG004730N88", Active: true}
	mockRules.rules["BBG000B9XRY4"] = &models.RiskRule{FIGI: "BBG000B9XRY4", Active: false}
	handler := NewRuleHandler(mockRules, NewMockMigrationService())

	w := serveRuleRequest(handler, http.MethodGet, "/rules?active=true", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rules []*models.RiskRule
	if err := json.NewDecoder(w.Body).Decode(&rules); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(rules) != 1 {
		t.Errorf("expected 1 active rule, got %d", len(rules))
	}
}
