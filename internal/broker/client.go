package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"riskengine/pkg/ratelimit"
	"riskengine/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPClient - REST-клиент торгового API брокера.
// Все запросы проходят через token bucket: брокер режет превышение
// лимита частоты жестче, чем ожидание лишних миллисекунд.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *ratelimit.RateLimiter
	log     *utils.Logger
}

// NewHTTPClient создает REST-клиент.
// rate - лимит запросов в секунду к API брокера.
func NewHTTPClient(baseURL, token string, rate float64, log *utils.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: ratelimit.NewRateLimiter(rate, rate*2),
		log:     log.WithComponent("broker"),
	}
}

type priceResponse struct {
	FIGI  string          `json:"figi"`
	Price decimal.Decimal `json:"price"`
}

// CurrentPrice возвращает последнюю цену инструмента
func (c *HTTPClient) CurrentPrice(ctx context.Context, figi string) (decimal.Decimal, error) {
	var resp priceResponse
	err := c.do(ctx, http.MethodGet, "/v1/market/last-price?figi="+figi, nil, &resp)
	if err != nil {
		return decimal.Zero, err
	}
	return resp.Price, nil
}

type orderRequest struct {
	AccountID string          `json:"account_id"`
	FIGI      string          `json:"figi"`
	Direction string          `json:"direction"`
	Qty       decimal.Decimal `json:"qty"`
	Type      string          `json:"type"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// ClosePosition закрывает позицию рыночным ордером противоположного
// направления: лонг продается, шорт выкупается
func (c *HTTPClient) ClosePosition(ctx context.Context, accountID, figi, side string, qty decimal.Decimal) (string, error) {
	direction := "SELL"
	if side == "SHORT" {
		direction = "BUY"
	}

	req := orderRequest{
		AccountID: accountID,
		FIGI:      figi,
		Direction: direction,
		Qty:       qty,
		Type:      "MARKET",
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &resp); err != nil {
		return "", err
	}
	if resp.Status == "REJECTED" {
		return "", fmt.Errorf("%w: order %s", ErrOrderRejected, resp.OrderID)
	}

	c.log.Info("close order submitted",
		utils.Account(accountID), utils.FIGI(figi),
		utils.OrderID(resp.OrderID), utils.Qty(qty.String()))
	return resp.OrderID, nil
}

// CancelOrder снимает ордер
func (c *HTTPClient) CancelOrder(ctx context.Context, accountID, orderID string) error {
	path := fmt.Sprintf("/v1/orders/%s?account_id=%s", orderID, accountID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ListOpenOrders возвращает активные ордера аккаунта
func (c *HTTPClient) ListOpenOrders(ctx context.Context, accountID string) ([]Order, error) {
	var orders []Order
	err := c.do(ctx, http.MethodGet, "/v1/orders?account_id="+accountID, nil, &orders)
	return orders, err
}

// ListPositions возвращает открытые позиции аккаунта
func (c *HTTPClient) ListPositions(ctx context.Context, accountID string) ([]Position, error) {
	var positions []Position
	err := c.do(ctx, http.MethodGet, "/v1/positions?account_id="+accountID, nil, &positions)
	return positions, err
}

// do выполняет запрос с rate limiting и разбором ошибок по статусу
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return c.rejection(resp.Body)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("broker request failed: status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode broker response: %w", err)
	}
	return nil
}

type rejectionBody struct {
	Message string `json:"message"`
}

func (c *HTTPClient) rejection(body io.Reader) error {
	var rb rejectionBody
	data, err := io.ReadAll(body)
	if err == nil && json.Unmarshal(data, &rb) == nil && rb.Message != "" {
		return fmt.Errorf("%w: %s", ErrOrderRejected, rb.Message)
	}
	return ErrOrderRejected
}
