package engine

import (
	"errors"
	"sync/atomic"

	"riskengine/pkg/ratelimit"
)

// Ошибки предохранителя
var (
	// ErrPanicActive - аварийный выключатель включен, ордера запрещены
	ErrPanicActive = errors.New("panic switch active: order submission blocked")
	// ErrOrderLimitExceeded - исчерпан лимит ордеров текущей минуты
	ErrOrderLimitExceeded = errors.New("per-minute order limit exceeded")
)

// Interlock - предохранитель перед отправкой ордеров брокеру.
//
// Две независимые защиты:
//   - panic switch: ручная мгновенная блокировка всех новых ордеров
//   - окно минуты: не больше N защитных ордеров в календарную минуту
//
// Проверки идут в фиксированном порядке: panic до окна, чтобы заблокированная
// попытка не сжигала слот лимита. Отмена уже висящих у брокера ордеров
// предохранителем не ограничивается.
type Interlock struct {
	panicked atomic.Bool
	window   *ratelimit.Window
}

// NewInterlock создает предохранитель с лимитом ордеров в минуту.
// maxOrdersPerMinute <= 0 отключает лимит.
func NewInterlock(maxOrdersPerMinute int) *Interlock {
	return &Interlock{
		window: ratelimit.NewWindow(maxOrdersPerMinute),
	}
}

// Authorize разрешает отправку одного ордера или возвращает причину отказа.
// Успешный вызов занимает слот минуты; слот не возвращается даже если
// брокер потом отклонил ордер.
func (i *Interlock) Authorize() error {
	if i.panicked.Load() {
		return ErrPanicActive
	}
	if !i.window.TryReserve() {
		return ErrOrderLimitExceeded
	}
	return nil
}

// EngagePanic включает аварийный выключатель.
// Возвращает false, если он уже был включен.
func (i *Interlock) EngagePanic() bool {
	return i.panicked.CompareAndSwap(false, true)
}

// ReleasePanic выключает аварийный выключатель.
// Возвращает false, если он не был включен.
func (i *Interlock) ReleasePanic() bool {
	return i.panicked.CompareAndSwap(true, false)
}

// PanicActive сообщает, включен ли аварийный выключатель
func (i *Interlock) PanicActive() bool {
	return i.panicked.Load()
}

// SetOrderLimit изменяет лимит ордеров в минуту на лету
func (i *Interlock) SetOrderLimit(limit int) {
	i.window.SetLimit(limit)
}

// OrderLimit возвращает текущий лимит
func (i *Interlock) OrderLimit() int {
	return i.window.Limit()
}

// SlotsRemaining возвращает свободные слоты текущей минуты (-1 = без лимита)
func (i *Interlock) SlotsRemaining() int {
	return i.window.Remaining()
}
