package broker

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"riskengine/pkg/utils"
)

// StreamConfig - настройки потока котировок
type StreamConfig struct {
	// URL websocket-потока брокера
	URL string
	// Токен авторизации
	Token string
	// Начальная задержка переподключения (по умолчанию 2s)
	InitialDelay time.Duration
	// Потолок задержки переподключения (по умолчанию 16s)
	MaxDelay time.Duration
	// Интервал ping (по умолчанию 30s)
	PingInterval time.Duration
	// Таймаут ожидания pong (по умолчанию 10s)
	PongTimeout time.Duration
}

func (c *StreamConfig) withDefaults() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 16 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
}

// TickHandler - обработчик ценового события
type TickHandler func(figi string, price decimal.Decimal, ts time.Time)

// PositionHandler - обработчик снимка позиции
type PositionHandler func(accountID, figi string, qty, avgPrice decimal.Decimal, ts time.Time)

// MarketStream - websocket-поток цен и позиций с автопереподключением.
//
// Exponential backoff 2s → 4s → 8s → 16s, подписки восстанавливаются
// после каждого реконнекта. Поток не буферизует историю: после разрыва
// движок продолжает с первой свежей цены, пропущенные тики не важны -
// watermark'и подтянутся текущей ценой.
type MarketStream struct {
	cfg StreamConfig
	log *utils.Logger

	onTick     TickHandler
	onPosition PositionHandler

	mu          sync.Mutex
	conn        *websocket.Conn
	subscribed  map[string]struct{}
	subAccounts map[string]struct{}
}

// NewMarketStream создает поток котировок
func NewMarketStream(cfg StreamConfig, onTick TickHandler, onPosition PositionHandler, log *utils.Logger) *MarketStream {
	cfg.withDefaults()
	return &MarketStream{
		cfg:         cfg,
		log:         log.WithComponent("stream"),
		onTick:      onTick,
		onPosition:  onPosition,
		subscribed:  make(map[string]struct{}),
		subAccounts: make(map[string]struct{}),
	}
}

// SubscribeTicks добавляет инструменты в подписку.
// Действует немедленно при активном соединении и восстанавливается
// после переподключения.
func (s *MarketStream) SubscribeTicks(figis ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]string, 0, len(figis))
	for _, figi := range figis {
		if _, ok := s.subscribed[figi]; ok {
			continue
		}
		s.subscribed[figi] = struct{}{}
		fresh = append(fresh, figi)
	}

	if s.conn == nil || len(fresh) == 0 {
		return nil
	}
	return s.send(subscribeMessage{Action: "subscribe", Channel: "prices", FIGIs: fresh})
}

// SubscribePositions добавляет аккаунт в подписку на снимки позиций
func (s *MarketStream) SubscribePositions(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subAccounts[accountID]; ok {
		return nil
	}
	s.subAccounts[accountID] = struct{}{}

	if s.conn == nil {
		return nil
	}
	return s.send(subscribeMessage{Action: "subscribe", Channel: "positions", Accounts: []string{accountID}})
}

// Run держит соединение до отмены контекста
func (s *MarketStream) Run(ctx context.Context) error {
	delay := s.cfg.InitialDelay

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.log.Warn("stream disconnected",
			utils.Err(err), utils.Dur("reconnect_in", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > s.cfg.MaxDelay {
			delay = s.cfg.MaxDelay
		}
	}
}

func (s *MarketStream) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(map[string][]string)
	if s.cfg.Token != "" {
		header["Authorization"] = []string{"Bearer " + s.cfg.Token}
	}

	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	err = s.resubscribeLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.log.Info("stream connected", utils.String("url", s.cfg.URL))

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval + s.cfg.PongTimeout))
	})
	conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval + s.cfg.PongTimeout))

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(conn, pingDone)

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(data)
	}
}

func (s *MarketStream) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// resubscribeLocked восстанавливает подписки; вызывается под lock'ом
func (s *MarketStream) resubscribeLocked() error {
	if len(s.subscribed) > 0 {
		figis := make([]string, 0, len(s.subscribed))
		for figi := range s.subscribed {
			figis = append(figis, figi)
		}
		if err := s.send(subscribeMessage{Action: "subscribe", Channel: "prices", FIGIs: figis}); err != nil {
			return err
		}
	}

	if len(s.subAccounts) > 0 {
		accounts := make([]string, 0, len(s.subAccounts))
		for acc := range s.subAccounts {
			accounts = append(accounts, acc)
		}
		if err := s.send(subscribeMessage{Action: "subscribe", Channel: "positions", Accounts: accounts}); err != nil {
			return err
		}
	}
	return nil
}

type subscribeMessage struct {
	Action   string   `json:"action"`
	Channel  string   `json:"channel"`
	FIGIs    []string `json:"figis,omitempty"`
	Accounts []string `json:"accounts,omitempty"`
}

// send пишет сообщение в соединение; вызывается под lock'ом
func (s *MarketStream) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// streamMessage - входящее сообщение потока
type streamMessage struct {
	Event     string          `json:"event"` // price, position
	FIGI      string          `json:"figi"`
	Price     decimal.Decimal `json:"price"`
	AccountID string          `json:"account_id"`
	Qty       decimal.Decimal `json:"qty"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	Time      time.Time       `json:"time"`
}

func (s *MarketStream) handleMessage(data []byte) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("malformed stream message", utils.Err(err))
		return
	}

	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	switch msg.Event {
	case "price":
		if s.onTick != nil && msg.FIGI != "" {
			s.onTick(msg.FIGI, msg.Price, ts)
		}
	case "position":
		if s.onPosition != nil && msg.FIGI != "" {
			s.onPosition(msg.AccountID, msg.FIGI, msg.Qty, msg.AvgPrice, ts)
		}
	}
}
