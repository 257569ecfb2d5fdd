package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskRule - шаблон защитных параметров для инструмента.
// Не привязан к открытой позиции; читается при создании PositionRiskState.
//
// Version используется миграцией для optimistic concurrency: строка,
// измененная после чтения снапшота, пропускается, а не перезаписывается.
type RiskRule struct {
	ID            int              `json:"id" db:"id"`
	FIGI          string           `json:"figi" db:"figi"`
	StopLossPct   *decimal.Decimal `json:"stop_loss_pct,omitempty" db:"stop_loss_pct"`   // доля, 0.05 = 5%
	TakeProfitPct *decimal.Decimal `json:"take_profit_pct,omitempty" db:"take_profit_pct"` // доля, 0.1 = 10%
	Active        bool             `json:"active" db:"active"`
	Version       int              `json:"version" db:"version"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}

// MigrationResult - итог bulk-миграции дефолтов.
// Конфликтные строки пропускаются и считаются, но не прерывают батч.
type MigrationResult struct {
	RulesUpdated  int `json:"rules_updated"`
	StatesUpdated int `json:"states_updated"`
	Conflicts     int `json:"conflicts"`
}
