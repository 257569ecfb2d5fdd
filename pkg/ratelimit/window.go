package ratelimit

import (
	"sync"
	"time"
)

// Window - лимит количества операций на календарную минуту.
//
// В отличие от token bucket, окно не сглаживает и не ставит в очередь:
// операция сверх лимита отклоняется сразу, счетчик обнуляется на границе
// минуты. Так ограничивается число защитных ордеров в минуту: лучше
// отказать и записать отказ в журнал, чем копить очередь ордеров по
// устаревшим ценам.
type Window struct {
	mu     sync.Mutex
	limit  int
	count  int
	minute time.Time

	// подменяется в тестах
	now func() time.Time
}

// NewWindow создает окно с лимитом операций в минуту.
// limit <= 0 означает "без ограничения".
func NewWindow(limit int) *Window {
	return &Window{
		limit: limit,
		now:   time.Now,
	}
}

// TryReserve пытается занять слот в текущей минуте.
// Возвращает false, если лимит минуты исчерпан. Слот не возвращается:
// отказ брокера после резервирования все равно считается израсходованной
// попыткой.
func (w *Window) TryReserve() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.roll()

	if w.limit <= 0 {
		return true
	}
	if w.count >= w.limit {
		return false
	}

	w.count++
	return true
}

// roll сбрасывает счетчик на границе минуты; вызывается под lock'ом
func (w *Window) roll() {
	current := w.now().Truncate(time.Minute)
	if !current.Equal(w.minute) {
		w.minute = current
		w.count = 0
	}
}

// Remaining возвращает число свободных слотов в текущей минуте.
// -1 означает "без ограничения".
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.roll()

	if w.limit <= 0 {
		return -1
	}
	remaining := w.limit - w.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Limit возвращает текущий лимит
func (w *Window) Limit() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.limit
}

// SetLimit изменяет лимит на лету. Счетчик текущей минуты сохраняется:
// ужесточение лимита действует немедленно, уже занятые слоты не
// освобождаются.
func (w *Window) SetLimit(limit int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.limit = limit
}
