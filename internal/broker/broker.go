package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Ошибки брокера
var (
	// ErrUnavailable - временный сбой API брокера; можно повторить
	ErrUnavailable = errors.New("broker unavailable")
	// ErrOrderRejected - брокер отклонил ордер; повтор бессмыслен
	ErrOrderRejected = errors.New("order rejected by broker")
	// ErrNotFound - инструмент, ордер или позиция не найдены
	ErrNotFound = errors.New("not found")
)

// Order - ордер у брокера
type Order struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	FIGI      string          `json:"figi"`
	Direction string          `json:"direction"` // BUY, SELL
	Qty       decimal.Decimal `json:"qty"`
	Status    string          `json:"status"` // NEW, FILLED, CANCELLED, REJECTED
	CreatedAt time.Time       `json:"created_at"`
}

// Position - открытая позиция у брокера.
// Qty со знаком: > 0 лонг, < 0 шорт.
type Position struct {
	AccountID string          `json:"account_id"`
	FIGI      string          `json:"figi"`
	Qty       decimal.Decimal `json:"qty"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
}

// Client - операции с торговым API брокера
type Client interface {
	// CurrentPrice возвращает последнюю цену инструмента
	CurrentPrice(ctx context.Context, figi string) (decimal.Decimal, error)

	// ClosePosition закрывает позицию рыночным ордером противоположного
	// направления. Возвращает ID ордера.
	ClosePosition(ctx context.Context, accountID, figi, side string, qty decimal.Decimal) (string, error)

	// CancelOrder снимает ордер
	CancelOrder(ctx context.Context, accountID, orderID string) error

	// ListOpenOrders возвращает активные ордера аккаунта
	ListOpenOrders(ctx context.Context, accountID string) ([]Order, error)

	// ListPositions возвращает открытые позиции аккаунта
	ListPositions(ctx context.Context, accountID string) ([]Position, error)
}
