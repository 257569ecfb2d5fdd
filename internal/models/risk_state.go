package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Сторона позиции
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Тип трейлинг-стопа
const (
	TrailingNone     = "NONE"
	TrailingPercent  = "PERCENT"
	TrailingAbsolute = "ABSOLUTE"
)

// Источник параметров риска
const (
	SourceRule   = "RULE"   // проценты взяты из RiskRule по умолчанию
	SourceManual = "MANUAL" // заданы вручную, миграция не трогает
	SourceSystem = "SYSTEM" // выставлены самим движком
)

// PositionKey - ключ состояния риска: одна запись на (аккаунт, инструмент)
type PositionKey struct {
	AccountID string
	FIGI      string
}

// String возвращает ключ в виде "account|figi" (используется для шардирования)
func (k PositionKey) String() string {
	return k.AccountID + "|" + k.FIGI
}

// PositionRiskState - состояние риска одной открытой позиции.
//
// Инварианты:
//   - HighWatermark не убывает для LONG, LowWatermark не возрастает для SHORT;
//     сброс только при закрытии и повторном открытии позиции
//   - StopLossLevel/TakeProfitLevel всегда согласованы с текущими
//     EntryPrice/процентами и watermark (пересчет на каждой оценке)
//   - ровно одна активная запись на (AccountID, FIGI) пока количество != 0
type PositionRiskState struct {
	AccountID string `json:"account_id" db:"account_id"`
	FIGI      string `json:"figi" db:"figi"`
	Side      string `json:"side" db:"side"` // LONG, SHORT

	// Процентные правила (nil = нога отключена)
	StopLossPct   *decimal.Decimal `json:"stop_loss_pct,omitempty" db:"sl_pct"`
	TakeProfitPct *decimal.Decimal `json:"take_profit_pct,omitempty" db:"tp_pct"`
	TrailingPct   *decimal.Decimal `json:"trailing_pct,omitempty" db:"trailing_pct"`
	TrailingAbs   *decimal.Decimal `json:"trailing_abs,omitempty" db:"trailing_abs"`

	// Рассчитанные ценовые уровни
	StopLossLevel   *decimal.Decimal `json:"stop_loss_level,omitempty" db:"sl_level"`
	TakeProfitLevel *decimal.Decimal `json:"take_profit_level,omitempty" db:"tp_level"`

	// Экстремумы цены с момента открытия позиции
	HighWatermark decimal.Decimal `json:"high_watermark" db:"high_watermark"`
	LowWatermark  decimal.Decimal `json:"low_watermark" db:"low_watermark"`

	// Базис позиции
	EntryPrice       decimal.Decimal `json:"entry_price" db:"entry_price"`
	AvgPriceSnapshot decimal.Decimal `json:"avg_price_snapshot" db:"avg_price_snapshot"`
	QtySnapshot      decimal.Decimal `json:"qty_snapshot" db:"qty_snapshot"`

	// Настройки трейлинга
	TrailingType string          `json:"trailing_type" db:"trailing_type"` // NONE, PERCENT, ABSOLUTE
	MinStepTicks decimal.Decimal `json:"min_step_ticks" db:"min_step_ticks"`

	// Стоп или тейк сработал; позиция ждет подтверждения закрытия
	PendingClose bool `json:"pending_close" db:"pending_close"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	Source    string    `json:"source" db:"source"` // RULE, MANUAL, SYSTEM
}

// Key возвращает ключ состояния
func (s *PositionRiskState) Key() PositionKey {
	return PositionKey{AccountID: s.AccountID, FIGI: s.FIGI}
}

// HasActiveStop сообщает, есть ли у позиции активный стоп-уровень.
// Вычисляется из наличия уровня, отдельного флага нет.
func (s *PositionRiskState) HasActiveStop() bool {
	return s.StopLossLevel != nil && !s.StopLossLevel.IsZero()
}

// HasActiveTake сообщает, есть ли у позиции активный тейк-уровень
func (s *PositionRiskState) HasActiveTake() bool {
	return s.TakeProfitLevel != nil && !s.TakeProfitLevel.IsZero()
}

// Unprotected возвращает true, если ни одна защитная нога не настроена
func (s *PositionRiskState) Unprotected() bool {
	return s.StopLossPct == nil && s.TakeProfitPct == nil &&
		s.TrailingType == TrailingNone
}

// Validate проверяет согласованность полей состояния
func (s *PositionRiskState) Validate() error {
	if s.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if s.FIGI == "" {
		return fmt.Errorf("figi is required")
	}
	if s.Side != SideLong && s.Side != SideShort {
		return fmt.Errorf("invalid side %q", s.Side)
	}
	switch s.TrailingType {
	case TrailingNone, TrailingPercent, TrailingAbsolute:
	default:
		return fmt.Errorf("invalid trailing type %q", s.TrailingType)
	}
	if s.TrailingType == TrailingPercent && s.TrailingPct == nil {
		return fmt.Errorf("trailing_pct is required for PERCENT trailing")
	}
	if s.TrailingType == TrailingAbsolute && s.TrailingAbs == nil {
		return fmt.Errorf("trailing_abs is required for ABSOLUTE trailing")
	}
	if s.EntryPrice.Sign() <= 0 {
		return fmt.Errorf("entry_price must be positive")
	}
	return nil
}

// Clone возвращает глубокую копию состояния.
// Threshold-движок чистый: он никогда не мутирует вход, а работает с копией.
func (s *PositionRiskState) Clone() PositionRiskState {
	c := *s
	c.StopLossPct = cloneDec(s.StopLossPct)
	c.TakeProfitPct = cloneDec(s.TakeProfitPct)
	c.TrailingPct = cloneDec(s.TrailingPct)
	c.TrailingAbs = cloneDec(s.TrailingAbs)
	c.StopLossLevel = cloneDec(s.StopLossLevel)
	c.TakeProfitLevel = cloneDec(s.TakeProfitLevel)
	return c
}

func cloneDec(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
