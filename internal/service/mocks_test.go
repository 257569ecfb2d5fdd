package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/broker"
	"riskengine/internal/models"
	"riskengine/internal/repository"
)

// ============ Mock StateRepository ============

type MockStateRepository struct {
	states map[string]*models.PositionRiskState

	getErr     error
	upsertErr  error
	listErr    error
	deleteErr  error
	migrateErr error

	migrateUpdated   int
	migrateConflicts int
	migrateCalls     int
}

func NewMockStateRepository() *MockStateRepository {
	return &MockStateRepository{
		states: make(map[string]*models.PositionRiskState),
	}
}

func stateKey(accountID, figi string) string {
	return accountID + "|" + figi
}

func (m *MockStateRepository) Get(accountID, figi string) (*models.PositionRiskState, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if state, ok := m.states[stateKey(accountID, figi)]; ok {
		clone := state.Clone()
		return &clone, nil
	}
	return nil, repository.ErrStateNotFound
}

func (m *MockStateRepository) Upsert(state *models.PositionRiskState) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	clone := state.Clone()
	m.states[stateKey(state.AccountID, state.FIGI)] = &clone
	return nil
}

func (m *MockStateRepository) ListActive(filter repository.StateFilter) ([]*models.PositionRiskState, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	result := make([]*models.PositionRiskState, 0, len(m.states))
	for _, s := range m.states {
		if filter.AccountID != "" && s.AccountID != filter.AccountID {
			continue
		}
		if filter.FIGI != "" && s.FIGI != filter.FIGI {
			continue
		}
		if filter.WithStop && s.StopLossLevel == nil {
			continue
		}
		if filter.WithTake && s.TakeProfitLevel == nil {
			continue
		}
		clone := s.Clone()
		result = append(result, &clone)
	}
	return result, nil
}

func (m *MockStateRepository) Delete(accountID, figi string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.states, stateKey(accountID, figi))
	return nil
}

func (m *MockStateRepository) MigrateRuleSourced(figi string, oldSL, oldTP, newSL, newTP, newTrailing decimal.Decimal) (int, int, error) {
	m.migrateCalls++
	if m.migrateErr != nil {
		return 0, 0, m.migrateErr
	}
	return m.migrateUpdated, m.migrateConflicts, nil
}

// ============ Mock EventRepository ============

type MockEventRepository struct {
	events    []*models.RiskEvent
	appendErr error
	queryErr  error
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{}
}

func (m *MockEventRepository) Append(event *models.RiskEvent) (bool, error) {
	if m.appendErr != nil {
		return false, m.appendErr
	}
	m.events = append(m.events, event)
	return true, nil
}

func (m *MockEventRepository) ByAccount(accountID string, limit int) ([]*models.RiskEvent, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var result []*models.RiskEvent
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		if m.events[i].AccountID == accountID {
			result = append(result, m.events[i])
		}
	}
	return result, nil
}

func (m *MockEventRepository) ByPosition(accountID, figi string, since time.Time, limit int) ([]*models.RiskEvent, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var result []*models.RiskEvent
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.events[i]
		if e.AccountID == accountID && e.FIGI == figi && !e.CreatedAt.Before(since) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MockEventRepository) Recent(limit int) ([]*models.RiskEvent, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var result []*models.RiskEvent
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, m.events[i])
	}
	return result, nil
}

func (m *MockEventRepository) lastEventType() string {
	if len(m.events) == 0 {
		return ""
	}
	return m.events[len(m.events)-1].EventType
}

// ============ Mock RuleRepository ============

type MockRuleRepository struct {
	rules map[string]*models.RiskRule

	getErr     error
	upsertErr  error
	migrateErr error

	migrateUpdated   int
	migrateConflicts int
	migrateCalls     int
	nextID           int
}

func NewMockRuleRepository() *MockRuleRepository {
	return &MockRuleRepository{
		rules:  make(map[string]*models.RiskRule),
		nextID: 1,
	}
}

func (m *MockRuleRepository) GetByFIGI(figi string) (*models.RiskRule, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if rule, ok := m.rules[figi]; ok {
		copied := *rule
		return &copied, nil
	}
	return nil, repository.ErrRuleNotFound
}

func (m *MockRuleRepository) List(activeOnly bool) ([]*models.RiskRule, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.RiskRule, 0, len(m.rules))
	for _, r := range m.rules {
		if activeOnly && !r.Active {
			continue
		}
		copied := *r
		result = append(result, &copied)
	}
	return result, nil
}

func (m *MockRuleRepository) Upsert(rule *models.RiskRule) (bool, error) {
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	existing, ok := m.rules[rule.FIGI]
	if ok {
		rule.ID = existing.ID
		rule.Version = existing.Version + 1
	} else {
		rule.ID = m.nextID
		m.nextID++
		rule.Version = 1
	}
	rule.UpdatedAt = time.Now()
	copied := *rule
	m.rules[rule.FIGI] = &copied
	return !ok, nil
}

func (m *MockRuleRepository) MigrateDefaults(figi string, oldSL, oldTP, newSL, newTP decimal.Decimal) (int, int, error) {
	m.migrateCalls++
	if m.migrateErr != nil {
		return 0, 0, m.migrateErr
	}
	return m.migrateUpdated, m.migrateConflicts, nil
}

// ============ Mock StateUpdater ============

type MockStateUpdater struct {
	states    map[models.PositionKey]*models.PositionRiskState
	updateErr error
}

func NewMockStateUpdater() *MockStateUpdater {
	return &MockStateUpdater{
		states: make(map[models.PositionKey]*models.PositionRiskState),
	}
}

func (m *MockStateUpdater) UpdateState(key models.PositionKey, mutate func(*models.PositionRiskState) error) (models.PositionRiskState, error) {
	if m.updateErr != nil {
		return models.PositionRiskState{}, m.updateErr
	}
	state, ok := m.states[key]
	if !ok {
		return models.PositionRiskState{}, repository.ErrStateNotFound
	}
	clone := state.Clone()
	if err := mutate(&clone); err != nil {
		return models.PositionRiskState{}, err
	}
	if err := clone.Validate(); err != nil {
		return models.PositionRiskState{}, err
	}
	m.states[key] = &clone
	return clone.Clone(), nil
}

func (m *MockStateUpdater) TrackedState(key models.PositionKey) (models.PositionRiskState, bool) {
	state, ok := m.states[key]
	if !ok {
		return models.PositionRiskState{}, false
	}
	return state.Clone(), true
}

func (m *MockStateUpdater) TrackedCount() int64 {
	return int64(len(m.states))
}

// ============ Mock Broker ============

type MockBroker struct {
	openOrders []broker.Order
	cancelled  []string

	listErr   error
	cancelErr error

	// failOrders - order_id, отмена которых возвращает ошибку
	failOrders map[string]bool
}

func NewMockBroker() *MockBroker {
	return &MockBroker{failOrders: make(map[string]bool)}
}

func (m *MockBroker) ListOpenOrders(ctx context.Context, accountID string) ([]broker.Order, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.openOrders, nil
}

func (m *MockBroker) CancelOrder(ctx context.Context, accountID, orderID string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	if m.failOrders[orderID] {
		return broker.ErrUnavailable
	}
	m.cancelled = append(m.cancelled, orderID)
	return nil
}
