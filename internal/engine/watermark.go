package engine

import (
	"github.com/shopspring/decimal"

	"riskengine/internal/models"
)

// Расчет watermark'ов и ценовых уровней. Все функции чистые:
// вход не мутируется, результат детерминирован.

var one = decimal.NewFromInt(1)

// UpdateWatermarks подтягивает экстремумы цены. Храповик: HighWatermark
// только растет, LowWatermark только падает. Возвращает true, если хотя бы
// один экстремум сдвинулся.
func UpdateWatermarks(state *models.PositionRiskState, price decimal.Decimal) bool {
	moved := false
	if price.GreaterThan(state.HighWatermark) {
		state.HighWatermark = price
		moved = true
	}
	if price.LessThan(state.LowWatermark) {
		state.LowWatermark = price
		moved = true
	}
	return moved
}

// StaticStopLevel - стоп от цены входа.
// LONG: entry * (1 - slPct), SHORT: entry * (1 + slPct).
// nil, если процентный стоп не настроен.
func StaticStopLevel(state *models.PositionRiskState) *decimal.Decimal {
	if state.StopLossPct == nil {
		return nil
	}

	var level decimal.Decimal
	if state.Side == models.SideLong {
		level = state.EntryPrice.Mul(one.Sub(*state.StopLossPct))
	} else {
		level = state.EntryPrice.Mul(one.Add(*state.StopLossPct))
	}

	level = RoundTowardEntry(level, state.EntryPrice, state.MinStepTicks)
	return &level
}

// TakeLevel - тейк от цены входа.
// LONG: entry * (1 + tpPct), SHORT: entry * (1 - tpPct).
func TakeLevel(state *models.PositionRiskState) *decimal.Decimal {
	if state.TakeProfitPct == nil {
		return nil
	}

	var level decimal.Decimal
	if state.Side == models.SideLong {
		level = state.EntryPrice.Mul(one.Add(*state.TakeProfitPct))
	} else {
		level = state.EntryPrice.Mul(one.Sub(*state.TakeProfitPct))
	}

	level = RoundTowardEntry(level, state.EntryPrice, state.MinStepTicks)
	return &level
}

// TrailingLevel - стоп от watermark'а.
// LONG: high * (1 - trailingPct) или high - trailingAbs,
// SHORT: low * (1 + trailingPct) или low + trailingAbs.
// nil, если трейлинг отключен.
func TrailingLevel(state *models.PositionRiskState) *decimal.Decimal {
	var level decimal.Decimal

	switch state.TrailingType {
	case models.TrailingPercent:
		if state.TrailingPct == nil {
			return nil
		}
		if state.Side == models.SideLong {
			level = state.HighWatermark.Mul(one.Sub(*state.TrailingPct))
		} else {
			level = state.LowWatermark.Mul(one.Add(*state.TrailingPct))
		}
	case models.TrailingAbsolute:
		if state.TrailingAbs == nil {
			return nil
		}
		if state.Side == models.SideLong {
			level = state.HighWatermark.Sub(*state.TrailingAbs)
		} else {
			level = state.LowWatermark.Add(*state.TrailingAbs)
		}
	default:
		return nil
	}

	level = RoundTowardEntry(level, state.EntryPrice, state.MinStepTicks)
	return &level
}

// EffectiveStopLevel - действующий стоп: более защитный из статического и
// трейлингового. Для LONG защитнее больший (ближе к цене), для SHORT
// меньший.
func EffectiveStopLevel(state *models.PositionRiskState) *decimal.Decimal {
	static := StaticStopLevel(state)
	trailing := TrailingLevel(state)

	if static == nil {
		return trailing
	}
	if trailing == nil {
		return static
	}

	if state.Side == models.SideLong {
		if trailing.GreaterThan(*static) {
			return trailing
		}
		return static
	}
	if trailing.LessThan(*static) {
		return trailing
	}
	return static
}

// RoundTowardEntry приводит уровень к шагу цены, округляя в сторону цены
// входа. Стоп ниже входа округляется вверх, тейк выше входа - вниз:
// уровень никогда не становится менее защитным из-за округления.
func RoundTowardEntry(level, entry, tick decimal.Decimal) decimal.Decimal {
	if tick.Sign() <= 0 {
		return level
	}

	steps := level.Div(tick)
	var rounded decimal.Decimal
	if level.LessThan(entry) {
		rounded = steps.Ceil().Mul(tick)
		if rounded.GreaterThan(entry) {
			rounded = steps.Floor().Mul(tick)
		}
	} else {
		rounded = steps.Floor().Mul(tick)
		if rounded.LessThan(entry) {
			rounded = steps.Ceil().Mul(tick)
		}
	}
	return rounded
}
