package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config - параметры повторных попыток.
//
// Экспоненциальный backoff с jitter:
// delay = min(InitialDelay * Multiplier^attempt + jitter, MaxDelay)
type Config struct {
	// MaxRetries - максимальное количество попыток (включая первую).
	// 0 или отрицательное = бесконечные retry
	MaxRetries int

	// InitialDelay - начальная задержка (по умолчанию 100ms)
	InitialDelay time.Duration

	// MaxDelay - потолок задержки (по умолчанию 30s)
	MaxDelay time.Duration

	// Multiplier - множитель экспоненциального роста (по умолчанию 2.0)
	Multiplier float64

	// JitterFactor - доля случайности 0.0-1.0 (по умолчанию 0.1)
	JitterFactor float64

	// RetryIf решает, стоит ли повторять данную ошибку.
	// nil = повторять все
	RetryIf func(error) bool

	// OnRetry вызывается перед каждой повторной попыткой
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig - конфигурация для обычных запросов к брокеру:
// 4 попытки, задержки 100ms, 200ms, 400ms (+ jitter)
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// CriticalConfig - для защитных ордеров (закрытие позиции по стопу).
// Больше попыток, быстрее retry: 6 попыток начиная с 50ms
func CriticalConfig() Config {
	return Config{
		MaxRetries:   6,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// StorageConfig - для записи состояния и журнала при временной
// недоступности БД: 3 попытки, 200ms, 400ms
func StorageConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

func (c *Config) validate() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
}

func (c *Config) calculateDelay(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))

	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterFactor > 0 {
		jitter := delay * c.JitterFactor * (rand.Float64()*2 - 1)
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Do выполняет операцию с повторными попытками.
// Возвращает nil при успехе или последнюю ошибку после исчерпания попыток.
func Do(ctx context.Context, operation func() error, cfg Config) error {
	cfg.validate()

	var lastErr error

	for attempt := 0; cfg.MaxRetries <= 0 || attempt < cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return err
		}

		if cfg.MaxRetries > 0 && attempt >= cfg.MaxRetries-1 {
			break
		}

		delay := cfg.calculateDelay(attempt)

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return lastErr
		}
	}

	return lastErr
}

// DoWithResult - вариант Do для операций, возвращающих значение
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	var result T
	err := Do(ctx, func() error {
		var opErr error
		result, opErr = operation()
		return opErr
	}, cfg)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// RetryIfNotContext не повторяет ошибки отмены контекста
func RetryIfNotContext(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// RetryIfIs возвращает предикат, повторяющий только ошибки из списка.
// Удобно для retry строго по временным ошибкам хранилища.
func RetryIfIs(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// PermanentError помечает ошибку как неповторяемую
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent оборачивает ошибку в PermanentError.
// В паре с RetryIfNotPermanent прерывает retry немедленно.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryIfNotPermanent не повторяет ошибки, обернутые Permanent
func RetryIfNotPermanent(err error) bool {
	var perm *PermanentError
	return !errors.As(err, &perm)
}
