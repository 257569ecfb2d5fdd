package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Типы событий риска
const (
	EventStopLossTriggered   = "STOP_LOSS_TRIGGERED"
	EventTakeProfitTriggered = "TAKE_PROFIT_TRIGGERED"
	EventTrailingUpdated     = "TRAILING_UPDATED"
	EventRuleCreated         = "RULE_CREATED"
	EventRuleUpdated         = "RULE_UPDATED"
	EventPositionClosed      = "POSITION_CLOSED"
	EventOrderRejected       = "ORDER_REJECTED" // ордер не отправлен (panic/лимит)
)

// RiskEvent - запись журнала аудита. Неизменяема после записи.
//
// Идемпотентность: для (AccountID, FIGI, EventType, NewValue) журнал хранит
// не более одной записи на логический переход; проверка идет только по
// последней записи позиции (O(1)), см. EventRepository.Append.
type RiskEvent struct {
	ID        int64  `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	FIGI      string `json:"figi" db:"figi"`
	EventType string `json:"event_type" db:"event_type"`
	Side      string `json:"side,omitempty" db:"side"`

	// Старое и новое значение изменившегося числового поля
	OldValue *decimal.Decimal `json:"old_value,omitempty" db:"old_value"`
	NewValue *decimal.Decimal `json:"new_value,omitempty" db:"new_value"`

	CurrentPrice *decimal.Decimal `json:"current_price,omitempty" db:"current_price"`
	Watermark    *decimal.Decimal `json:"watermark,omitempty" db:"watermark"`

	Reason  string            `json:"reason,omitempty" db:"reason"`
	Details map[string]string `json:"details,omitempty" db:"details"` // JSONB

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsTrigger возвращает true для событий, требующих закрытия позиции
func (e *RiskEvent) IsTrigger() bool {
	return e.EventType == EventStopLossTriggered || e.EventType == EventTakeProfitTriggered
}
