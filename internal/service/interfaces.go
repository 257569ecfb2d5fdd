package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/broker"
	"riskengine/internal/models"
	"riskengine/internal/repository"
)

// StateRepositoryInterface определяет интерфейс репозитория состояний риска
type StateRepositoryInterface interface {
	Get(accountID, figi string) (*models.PositionRiskState, error)
	Upsert(state *models.PositionRiskState) error
	ListActive(filter repository.StateFilter) ([]*models.PositionRiskState, error)
	Delete(accountID, figi string) error
	MigrateRuleSourced(figi string, oldSL, oldTP, newSL, newTP, newTrailing decimal.Decimal) (int, int, error)
}

// EventRepositoryInterface определяет интерфейс журнала событий
type EventRepositoryInterface interface {
	Append(event *models.RiskEvent) (bool, error)
	ByAccount(accountID string, limit int) ([]*models.RiskEvent, error)
	ByPosition(accountID, figi string, since time.Time, limit int) ([]*models.RiskEvent, error)
	Recent(limit int) ([]*models.RiskEvent, error)
}

// RuleRepositoryInterface определяет интерфейс репозитория правил
type RuleRepositoryInterface interface {
	GetByFIGI(figi string) (*models.RiskRule, error)
	List(activeOnly bool) ([]*models.RiskRule, error)
	Upsert(rule *models.RiskRule) (bool, error)
	MigrateDefaults(figi string, oldSL, oldTP, newSL, newTP decimal.Decimal) (int, int, error)
}

// StateUpdaterInterface - живой реестр движка для ручных изменений.
// Ручные правки идут через движок, а не напрямую в БД: реестр и
// хранилище должны видеть изменение одновременно.
type StateUpdaterInterface interface {
	UpdateState(key models.PositionKey, mutate func(*models.PositionRiskState) error) (models.PositionRiskState, error)
	TrackedState(key models.PositionKey) (models.PositionRiskState, bool)
	TrackedCount() int64
}

// BrokerInterface - операции с брокером, нужные сервисам управления
type BrokerInterface interface {
	CancelOrder(ctx context.Context, accountID, orderID string) error
	ListOpenOrders(ctx context.Context, accountID string) ([]broker.Order, error)
}

// RiskServiceInterface определяет интерфейс сервиса риска для API handlers
type RiskServiceInterface interface {
	GetState(accountID, figi string) (*models.PositionRiskState, error)
	ListStates(req ListStatesRequest) ([]*models.PositionRiskState, error)
	UpdateState(accountID, figi string, req *UpdateStateRequest) (*models.PositionRiskState, error)
	ListEvents(req ListEventsRequest) ([]*models.RiskEvent, error)
}

// RuleServiceInterface определяет интерфейс сервиса правил для API handlers
type RuleServiceInterface interface {
	GetRule(figi string) (*models.RiskRule, error)
	ListRules(activeOnly bool) ([]*models.RiskRule, error)
	UpsertRule(req *UpsertRuleRequest) (*models.RiskRule, error)
}

// MigrationServiceInterface определяет интерфейс сервиса миграции для API handlers
type MigrationServiceInterface interface {
	Migrate(req *MigrateRequest) (*models.MigrationResult, error)
}

// ControlServiceInterface определяет интерфейс аварийного управления для API handlers
type ControlServiceInterface interface {
	Status() ControlStatus
	EngagePanic(reason string) bool
	ReleasePanic() bool
	SetOrderLimit(limit int) error
	CancelAll(ctx context.Context, accountID string) (*CancelAllResult, error)
}
