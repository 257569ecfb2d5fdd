package handlers

import (
	"context"
	"errors"

	"riskengine/internal/models"
	"riskengine/internal/repository"
	"riskengine/internal/service"
)

var ErrMockDatabase = errors.New("mock database error")

// ============ Mock RiskService ============

type MockRiskService struct {
	states map[string]*models.PositionRiskState
	events []*models.RiskEvent

	getErr    error
	listErr   error
	updateErr error
	eventsErr error

	lastUpdate *service.UpdateStateRequest
}

func NewMockRiskService() *MockRiskService {
	return &MockRiskService{
		states: make(map[string]*models.PositionRiskState),
	}
}

func (m *MockRiskService) GetState(accountID, figi string) (*models.PositionRiskState, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if state, ok := m.states[accountID+"|"+figi]; ok {
		return state, nil
	}
	return nil, repository.ErrStateNotFound
}

func (m *MockRiskService) ListStates(req service.ListStatesRequest) ([]*models.PositionRiskState, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	result := make([]*models.PositionRiskState, 0, len(m.states))
	for _, s := range m.states {
		result = append(result, s)
	}
	return result, nil
}

func (m *MockRiskService) UpdateState(accountID, figi string, req *service.UpdateStateRequest) (*models.PositionRiskState, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.lastUpdate = req
	state, ok := m.states[accountID+"|"+figi]
	if !ok {
		return nil, repository.ErrStateNotFound
	}
	return state, nil
}

func (m *MockRiskService) ListEvents(req service.ListEventsRequest) ([]*models.RiskEvent, error) {
	if m.eventsErr != nil {
		return nil, m.eventsErr
	}
	return m.events, nil
}

// ============ Mock RuleService ============

type MockRuleService struct {
	rules map[string]*models.RiskRule

	getErr    error
	upsertErr error

	lastUpsert *service.UpsertRuleRequest
}

func NewMockRuleService() *MockRuleService {
	return &MockRuleService{rules: make(map[string]*models.RiskRule)}
}

func (m *MockRuleService) GetRule(figi string) (*models.RiskRule, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if rule, ok := m.rules[figi]; ok {
		return rule, nil
	}
	return nil, repository.ErrRuleNotFound
}

func (m *MockRuleService) ListRules(activeOnly bool) ([]*models.RiskRule, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.RiskRule, 0, len(m.rules))
	for _, r := range m.rules {
		if activeOnly && !r.Active {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

func (m *MockRuleService) UpsertRule(req *service.UpsertRuleRequest) (*models.RiskRule, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	m.lastUpsert = req
	rule, ok := m.rules[req.FIGI]
	if !ok {
		rule = &models.RiskRule{FIGI: req.FIGI, Version: 1, Active: true}
		m.rules[req.FIGI] = rule
	} else {
		rule.Version++
	}
	rule.StopLossPct = req.StopLossPct
	rule.TakeProfitPct = req.TakeProfitPct
	return rule, nil
}

// ============ Mock MigrationService ============

type MockMigrationService struct {
	result     *models.MigrationResult
	migrateErr error
	lastReq    *service.MigrateRequest
}

func NewMockMigrationService() *MockMigrationService {
	return &MockMigrationService{result: &models.MigrationResult{}}
}

func (m *MockMigrationService) Migrate(req *service.MigrateRequest) (*models.MigrationResult, error) {
	if m.migrateErr != nil {
		return nil, m.migrateErr
	}
	m.lastReq = req
	return m.result, nil
}

// ============ Mock ControlService ============

type MockControlService struct {
	panicActive bool
	orderLimit  int
	limitErr    error

	cancelResult *service.CancelAllResult
	cancelErr    error
	lastAccount  string
	lastReason   string
}

func NewMockControlService() *MockControlService {
	return &MockControlService{
		orderLimit:   10,
		cancelResult: &service.CancelAllResult{},
	}
}

func (m *MockControlService) Status() service.ControlStatus {
	return service.ControlStatus{
		PanicActive:    m.panicActive,
		OrderLimit:     m.orderLimit,
		SlotsRemaining: m.orderLimit,
	}
}

func (m *MockControlService) EngagePanic(reason string) bool {
	m.lastReason = reason
	if m.panicActive {
		return false
	}
	m.panicActive = true
	return true
}

func (m *MockControlService) ReleasePanic() bool {
	if !m.panicActive {
		return false
	}
	m.panicActive = false
	return true
}

func (m *MockControlService) SetOrderLimit(limit int) error {
	if m.limitErr != nil {
		return m.limitErr
	}
	if limit < 0 {
		return service.ErrInvalidOrderLimit
	}
	m.orderLimit = limit
	return nil
}

func (m *MockControlService) CancelAll(ctx context.Context, accountID string) (*service.CancelAllResult, error) {
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	m.lastAccount = accountID
	return m.cancelResult, nil
}
