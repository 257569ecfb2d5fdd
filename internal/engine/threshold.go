package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/models"
)

// Действие, которое диспетчер должен выполнить после оценки
const (
	ActionNone  = "NONE"
	ActionClose = "CLOSE"
)

// Result - итог оценки одного тика
type Result struct {
	// State - новое состояние (копия, вход не мутируется)
	State models.PositionRiskState

	// Events - события для журнала в порядке возникновения
	Events []models.RiskEvent

	// Action - что делать с позицией
	Action string
}

// Evaluate - чистая функция оценки тика против состояния риска.
//
// Порядок строго фиксирован: сначала подтяжка watermark'ов и пересчет
// уровней, затем проверка триггеров по обновленным уровням. Оба сравнения
// включающие (<=, >=). Если цена пробила и стоп и тейк одним тиком,
// срабатывает стоп: закрытие по худшему сценарию безопаснее.
//
// Повторная оценка того же тика дает тот же результат без новых событий:
// watermark не двигается, уровни не меняются, PendingClose гасит
// повторный триггер.
func Evaluate(prev *models.PositionRiskState, price decimal.Decimal, now time.Time) Result {
	state := prev.Clone()
	result := Result{Action: ActionNone}

	// Позиция уже ждет закрытия - тики игнорируются до подтверждения
	if state.PendingClose {
		result.State = state
		return result
	}

	prevHigh := state.HighWatermark
	prevLow := state.LowWatermark
	UpdateWatermarks(&state, price)

	oldStop := state.StopLossLevel
	state.StopLossLevel = EffectiveStopLevel(&state)
	state.TakeProfitLevel = TakeLevel(&state)

	// Любое движение watermark'а попадает в журнал, даже без трейлинга
	// и без срабатывания. Если трейлинг при этом подтянул стоп, событие
	// несет старый и новый уровень стопа; иначе - сам watermark.
	switch {
	case state.TrailingType != models.TrailingNone && stopMoved(oldStop, state.StopLossLevel):
		watermark := state.HighWatermark
		if state.Side == models.SideShort {
			watermark = state.LowWatermark
		}
		result.Events = append(result.Events, models.RiskEvent{
			AccountID:    state.AccountID,
			FIGI:         state.FIGI,
			EventType:    models.EventTrailingUpdated,
			Side:         state.Side,
			OldValue:     oldStop,
			NewValue:     state.StopLossLevel,
			CurrentPrice: &price,
			Watermark:    &watermark,
			CreatedAt:    now,
		})
	case !state.HighWatermark.Equal(prevHigh):
		result.Events = append(result.Events, watermarkEvent(&state, prevHigh, state.HighWatermark, price, now))
	case !state.LowWatermark.Equal(prevLow):
		result.Events = append(result.Events, watermarkEvent(&state, prevLow, state.LowWatermark, price, now))
	}

	stopHit := state.StopLossLevel != nil && crossedStop(state.Side, price, *state.StopLossLevel)
	takeHit := state.TakeProfitLevel != nil && crossedTake(state.Side, price, *state.TakeProfitLevel)

	// Стоп приоритетнее тейка при одновременном пробое
	switch {
	case stopHit:
		result.Events = append(result.Events, triggerEvent(&state, models.EventStopLossTriggered, state.StopLossLevel, price, now))
		state.PendingClose = true
		result.Action = ActionClose
	case takeHit:
		result.Events = append(result.Events, triggerEvent(&state, models.EventTakeProfitTriggered, state.TakeProfitLevel, price, now))
		state.PendingClose = true
		result.Action = ActionClose
	}

	result.State = state
	return result
}

// crossedStop - включающее сравнение цены со стопом.
// LONG: цена упала до уровня, SHORT: цена выросла до уровня.
func crossedStop(side string, price, level decimal.Decimal) bool {
	if side == models.SideLong {
		return price.LessThanOrEqual(level)
	}
	return price.GreaterThanOrEqual(level)
}

// crossedTake - включающее сравнение цены с тейком
func crossedTake(side string, price, level decimal.Decimal) bool {
	if side == models.SideLong {
		return price.GreaterThanOrEqual(level)
	}
	return price.LessThanOrEqual(level)
}

func stopMoved(prev, curr *decimal.Decimal) bool {
	if prev == nil && curr == nil {
		return false
	}
	if prev == nil || curr == nil {
		return true
	}
	return !prev.Equal(*curr)
}

// watermarkEvent - запись о движении экстремума без изменения уровней
// (трейлинг выключен либо округление съело сдвиг)
func watermarkEvent(state *models.PositionRiskState, old, curr, price decimal.Decimal, now time.Time) models.RiskEvent {
	return models.RiskEvent{
		AccountID:    state.AccountID,
		FIGI:         state.FIGI,
		EventType:    models.EventTrailingUpdated,
		Side:         state.Side,
		OldValue:     &old,
		NewValue:     &curr,
		CurrentPrice: &price,
		Watermark:    &curr,
		CreatedAt:    now,
	}
}

func triggerEvent(state *models.PositionRiskState, eventType string, level *decimal.Decimal, price decimal.Decimal, now time.Time) models.RiskEvent {
	watermark := state.HighWatermark
	if state.Side == models.SideShort {
		watermark = state.LowWatermark
	}
	return models.RiskEvent{
		AccountID:    state.AccountID,
		FIGI:         state.FIGI,
		EventType:    eventType,
		Side:         state.Side,
		NewValue:     level,
		CurrentPrice: &price,
		Watermark:    &watermark,
		Details: map[string]string{
			"qty": state.QtySnapshot.String(),
		},
		CreatedAt: now,
	}
}
