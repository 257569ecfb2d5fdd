package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/models"
	"riskengine/internal/repository"
	"riskengine/pkg/retry"
	"riskengine/pkg/utils"
)

// Tick - событие цены от потока котировок
type Tick struct {
	FIGI  string
	Price decimal.Decimal
	Time  time.Time
}

// PositionSnapshot - снимок позиции от брокера.
// Qty со знаком: > 0 лонг, < 0 шорт, 0 - позиция закрыта.
type PositionSnapshot struct {
	AccountID string
	FIGI      string
	Qty       decimal.Decimal
	AvgPrice  decimal.Decimal
	Time      time.Time
}

// StateStore - персистентное хранилище состояний риска
type StateStore interface {
	Get(accountID, figi string) (*models.PositionRiskState, error)
	Upsert(state *models.PositionRiskState) error
	ListActive(filter repository.StateFilter) ([]*models.PositionRiskState, error)
	Delete(accountID, figi string) error
}

// EventLog - append-only журнал событий
type EventLog interface {
	Append(event *models.RiskEvent) (bool, error)
}

// OrderPlacer - отправка закрывающих ордеров брокеру
type OrderPlacer interface {
	ClosePosition(ctx context.Context, accountID, figi, side string, qty decimal.Decimal) (string, error)
}

// DefaultsProvider - дефолтные проценты для новой позиции.
// nil в любом из значений отключает соответствующую ногу.
type DefaultsProvider interface {
	DefaultsFor(figi string) (stopLossPct, takeProfitPct, trailingPct *decimal.Decimal)
}

// Config - настройки диспетчера
type Config struct {
	// NumShards - число шардов (по умолчанию NumCPU)
	NumShards int
	// QueueCapacity - емкость очереди шарда (по умолчанию 1024)
	QueueCapacity int
	// OrderTimeout - таймаут отправки закрывающего ордера (по умолчанию 5s)
	OrderTimeout time.Duration
	// StorageTimeout - таймаут записи состояния с retry (по умолчанию 3s)
	StorageTimeout time.Duration
	// MinStepTicks - шаг цены по умолчанию для новых позиций
	MinStepTicks decimal.Decimal
}

func (c *Config) withDefaults() {
	if c.NumShards <= 0 {
		c.NumShards = runtime.NumCPU()
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 5 * time.Second
	}
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = 3 * time.Second
	}
	if c.MinStepTicks.Sign() <= 0 {
		c.MinStepTicks = decimal.NewFromFloat(0.01)
	}
}

// Dispatcher - событийный контур оценки риска.
//
// Архитектура:
//   - НЕТ polling: каждый тик мгновенно триггерит оценку затронутых позиций
//   - Шардирование по ключу позиции (hash "account|figi"): тики одной
//     позиции всегда обрабатываются одним воркером строго по порядку
//   - Supersede вместо очереди: пока позиция обрабатывается, хранится
//     ровно один отложенный тик; более свежая цена замещает его.
//     Глубокая очередь устаревших цен бессмысленна - важна последняя
//   - Индекс states по FIGI через sync.Map: lock-free чтение в горячем пути
//
// Поток данных:
// Stream → OnTick → index[figi] → shard[hash(key)] → Evaluate → Upsert/Append → Order
type Dispatcher struct {
	cfg Config

	store    StateStore
	events   EventLog
	orders   OrderPlacer
	defaults DefaultsProvider

	interlock *Interlock
	log       *utils.Logger

	// onTrack вызывается при постановке позиции на учет; задается до Start
	onTrack func(accountID, figi string)

	// models.PositionKey -> *trackedState
	states sync.Map
	// figi -> *figiIndex, для O(1) поиска позиций по тику
	byFIGI sync.Map

	tracked int64

	shards   []*tickShard
	shutdown chan struct{}
	wg       sync.WaitGroup
	started  atomic.Bool
}

// trackedState - отслеживаемая позиция; mutex сериализует оценку
// с ручными изменениями параметров
type trackedState struct {
	mu    sync.Mutex
	state models.PositionRiskState
}

type figiIndex struct {
	mu   sync.RWMutex
	keys map[models.PositionKey]struct{}
}

// tickShard - шард с гейтом "один отложенный тик на ключ"
type tickShard struct {
	mu      sync.Mutex
	pending map[models.PositionKey]*pendingTick
	queue   chan models.PositionKey
}

type pendingTick struct {
	price decimal.Decimal
	time  time.Time
}

// NewDispatcher создает диспетчер оценки риска
func NewDispatcher(cfg Config, store StateStore, events EventLog, orders OrderPlacer, defaults DefaultsProvider, interlock *Interlock, log *utils.Logger) *Dispatcher {
	cfg.withDefaults()

	d := &Dispatcher{
		cfg:       cfg,
		store:     store,
		events:    events,
		orders:    orders,
		defaults:  defaults,
		interlock: interlock,
		log:       log.WithComponent("dispatcher"),
		shutdown:  make(chan struct{}),
	}

	d.shards = make([]*tickShard, cfg.NumShards)
	for i := range d.shards {
		d.shards[i] = &tickShard{
			pending: make(map[models.PositionKey]*pendingTick),
			queue:   make(chan models.PositionKey, cfg.QueueCapacity),
		}
	}

	return d
}

// SetOnTrack задает хук постановки позиции на учет. Хук срабатывает
// для каждой новой отслеживаемой позиции: и для состояний, загруженных
// на старте, и для позиций, открытых на лету. Поток котировок вешает
// сюда подписку на тики инструмента и снимки счета.
func (d *Dispatcher) SetOnTrack(fn func(accountID, figi string)) {
	d.onTrack = fn
}

// Start загружает активные состояния и запускает воркеры.
// Один воркер на шард: порядок оценки внутри ключа гарантирован.
func (d *Dispatcher) Start() error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already started")
	}

	if err := d.loadActive(); err != nil {
		return fmt.Errorf("failed to load active states: %w", err)
	}

	for i, shard := range d.shards {
		d.wg.Add(1)
		go d.worker(i, shard)
	}

	d.log.Info("dispatcher started",
		utils.Int("shards", d.cfg.NumShards),
		utils.Int64("positions", atomic.LoadInt64(&d.tracked)))
	return nil
}

// Stop останавливает воркеры и дожидается их завершения
func (d *Dispatcher) Stop() {
	if !d.started.CompareAndSwap(true, false) {
		return
	}
	close(d.shutdown)
	d.wg.Wait()
	d.log.Info("dispatcher stopped")
}

// loadActive восстанавливает реестр из хранилища после рестарта
func (d *Dispatcher) loadActive() error {
	states, err := d.store.ListActive(repository.StateFilter{})
	if err != nil {
		return err
	}

	for _, state := range states {
		d.register(state)
	}
	return nil
}

func (d *Dispatcher) register(state *models.PositionRiskState) {
	key := state.Key()
	d.states.Store(key, &trackedState{state: state.Clone()})

	idx, _ := d.byFIGI.LoadOrStore(state.FIGI, &figiIndex{keys: make(map[models.PositionKey]struct{})})
	fi := idx.(*figiIndex)
	fi.mu.Lock()
	fi.keys[key] = struct{}{}
	fi.mu.Unlock()

	atomic.AddInt64(&d.tracked, 1)
	ActivePositions.Inc()

	if d.onTrack != nil {
		d.onTrack(state.AccountID, state.FIGI)
	}
}

func (d *Dispatcher) unregister(key models.PositionKey) {
	if _, loaded := d.states.LoadAndDelete(key); !loaded {
		return
	}

	if idx, ok := d.byFIGI.Load(key.FIGI); ok {
		fi := idx.(*figiIndex)
		fi.mu.Lock()
		delete(fi.keys, key)
		fi.mu.Unlock()
	}

	atomic.AddInt64(&d.tracked, -1)
	ActivePositions.Dec()
}

// TrackedCount возвращает число отслеживаемых позиций
func (d *Dispatcher) TrackedCount() int64 {
	return atomic.LoadInt64(&d.tracked)
}

// TrackedState возвращает копию отслеживаемого состояния
func (d *Dispatcher) TrackedState(key models.PositionKey) (models.PositionRiskState, bool) {
	v, ok := d.states.Load(key)
	if !ok {
		return models.PositionRiskState{}, false
	}
	t := v.(*trackedState)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Clone(), true
}

// OnTick направляет тик всем позициям инструмента
func (d *Dispatcher) OnTick(tick Tick) {
	idx, ok := d.byFIGI.Load(tick.FIGI)
	if !ok {
		return
	}

	fi := idx.(*figiIndex)
	fi.mu.RLock()
	keys := make([]models.PositionKey, 0, len(fi.keys))
	for key := range fi.keys {
		keys = append(keys, key)
	}
	fi.mu.RUnlock()

	if len(keys) == 0 {
		return
	}

	TicksProcessed.WithLabelValues(tick.FIGI).Inc()

	for _, key := range keys {
		d.enqueue(key, tick.Price, tick.Time)
	}
}

// enqueue ставит тик в шард ключа. Если для ключа уже есть отложенный
// тик, свежая цена замещает его без повторной постановки в очередь.
func (d *Dispatcher) enqueue(key models.PositionKey, price decimal.Decimal, ts time.Time) {
	shard := d.shardFor(key)

	shard.mu.Lock()
	if p, exists := shard.pending[key]; exists {
		p.price = price
		p.time = ts
		shard.mu.Unlock()
		TicksSuperseded.Inc()
		return
	}
	shard.pending[key] = &pendingTick{price: price, time: ts}
	shard.mu.Unlock()

	select {
	case shard.queue <- key:
	case <-d.shutdown:
	}
}

func (d *Dispatcher) shardFor(key models.PositionKey) *tickShard {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return d.shards[int(h.Sum32())%len(d.shards)]
}

func (d *Dispatcher) worker(id int, shard *tickShard) {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			return
		case key := <-shard.queue:
			shard.mu.Lock()
			job := shard.pending[key]
			delete(shard.pending, key)
			shard.mu.Unlock()

			if job == nil {
				continue
			}
			d.process(key, job.price, job.time)
		}
	}
}

// process - оценка одного тика для одной позиции
func (d *Dispatcher) process(key models.PositionKey, price decimal.Decimal, ts time.Time) {
	start := time.Now()

	v, ok := d.states.Load(key)
	if !ok {
		return
	}
	t := v.(*trackedState)

	t.mu.Lock()
	defer t.mu.Unlock()

	result := Evaluate(&t.state, price, ts)

	outcome := "noop"
	for i := range result.Events {
		if result.Events[i].EventType == models.EventTrailingUpdated {
			outcome = "trailing_update"
			TrailingUpdates.Inc()
		}
	}
	if result.Action == ActionClose {
		outcome = "trigger"
	}

	if stateChanged(&t.state, &result.State) {
		if err := d.persist(&result.State); err != nil {
			if errors.Is(err, repository.ErrStaleWatermark) {
				// Параллельная запись обогнала нас - перечитываем и выходим,
				// следующий тик продолжит с актуального состояния
				StaleWatermarkRejections.Inc()
				d.reload(t, key)
				return
			}
			d.log.Error("failed to persist state",
				utils.Account(key.AccountID), utils.FIGI(key.FIGI), utils.Err(err))
			return
		}
	}

	for i := range result.Events {
		d.append(&result.Events[i])
	}

	if result.Action == ActionClose {
		d.recordTrigger(&result)
		if err := d.submitClose(&result.State, price); err != nil {
			// Отказ предохранителя или брокера: снимаем PendingClose,
			// чтобы следующий тик мог повторить попытку
			result.State.PendingClose = false
			if perr := d.persist(&result.State); perr != nil {
				d.log.Error("failed to revert pending close",
					utils.Account(key.AccountID), utils.FIGI(key.FIGI), utils.Err(perr))
			}
		}
	}

	t.state = result.State

	TickToActionLatency.WithLabelValues(outcome).
		Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

func (d *Dispatcher) recordTrigger(result *Result) {
	for i := range result.Events {
		switch result.Events[i].EventType {
		case models.EventStopLossTriggered:
			TriggersTotal.WithLabelValues("stop_loss", result.State.Side).Inc()
		case models.EventTakeProfitTriggered:
			TriggersTotal.WithLabelValues("take_profit", result.State.Side).Inc()
		}
	}
}

// persist записывает состояние с retry по временным сбоям хранилища.
// ErrStaleWatermark не повторяется - это не сбой, а проигранная гонка.
func (d *Dispatcher) persist(state *models.PositionRiskState) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.StorageTimeout)
	defer cancel()

	cfg := retry.StorageConfig()
	cfg.RetryIf = retry.RetryIfIs(repository.ErrRepositoryUnavailable)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		StorageRetries.Inc()
		d.log.Warn("retrying state write",
			utils.Account(state.AccountID), utils.FIGI(state.FIGI),
			utils.Int("attempt", attempt), utils.Err(err))
	}

	return retry.Do(ctx, func() error {
		return d.store.Upsert(state)
	}, cfg)
}

// reload перечитывает состояние из хранилища в реестр
func (d *Dispatcher) reload(t *trackedState, key models.PositionKey) {
	fresh, err := d.store.Get(key.AccountID, key.FIGI)
	if err != nil {
		d.log.Error("failed to reload state",
			utils.Account(key.AccountID), utils.FIGI(key.FIGI), utils.Err(err))
		return
	}
	t.state = fresh.Clone()
}

// append пишет событие в журнал; дубликаты переходов гасятся на уровне SQL
func (d *Dispatcher) append(event *models.RiskEvent) {
	appended, err := d.events.Append(event)
	if err != nil {
		d.log.Error("failed to append event",
			utils.Account(event.AccountID), utils.FIGI(event.FIGI),
			utils.EventType(event.EventType), utils.Err(err))
		return
	}
	if !appended {
		return
	}
	d.log.Info("risk event",
		utils.Account(event.AccountID), utils.FIGI(event.FIGI),
		utils.EventType(event.EventType), utils.Side(event.Side))
}

// submitClose отправляет закрывающий ордер через предохранитель
func (d *Dispatcher) submitClose(state *models.PositionRiskState, price decimal.Decimal) error {
	if err := d.interlock.Authorize(); err != nil {
		reason := "rate_limit"
		if errors.Is(err, ErrPanicActive) {
			reason = "panic"
		}
		OrdersRejected.WithLabelValues(reason).Inc()
		d.appendRejection(state, price, err.Error())
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.OrderTimeout)
	defer cancel()

	orderID, err := retry.DoWithResult(ctx, func() (string, error) {
		return d.orders.ClosePosition(ctx, state.AccountID, state.FIGI, state.Side, state.QtySnapshot)
	}, retry.CriticalConfig())
	if err != nil {
		OrdersRejected.WithLabelValues("broker_error").Inc()
		d.appendRejection(state, price, err.Error())
		return err
	}

	OrdersPlaced.WithLabelValues("close").Inc()
	d.log.Info("protective order placed",
		utils.Account(state.AccountID), utils.FIGI(state.FIGI),
		utils.OrderID(orderID), utils.Side(state.Side), utils.Price(price.String()))
	return nil
}

func (d *Dispatcher) appendRejection(state *models.PositionRiskState, price decimal.Decimal, reason string) {
	d.append(&models.RiskEvent{
		AccountID:    state.AccountID,
		FIGI:         state.FIGI,
		EventType:    models.EventOrderRejected,
		Side:         state.Side,
		CurrentPrice: &price,
		Reason:       reason,
		CreatedAt:    time.Now(),
	})
}

// stateChanged сравнивает значимые для персистентности поля
func stateChanged(prev, curr *models.PositionRiskState) bool {
	return !prev.HighWatermark.Equal(curr.HighWatermark) ||
		!prev.LowWatermark.Equal(curr.LowWatermark) ||
		stopMoved(prev.StopLossLevel, curr.StopLossLevel) ||
		stopMoved(prev.TakeProfitLevel, curr.TakeProfitLevel) ||
		prev.PendingClose != curr.PendingClose
}

// OnPositionSnapshot синхронизирует реестр со снимком позиции от брокера
func (d *Dispatcher) OnPositionSnapshot(snap PositionSnapshot) {
	key := models.PositionKey{AccountID: snap.AccountID, FIGI: snap.FIGI}

	if snap.Qty.IsZero() {
		d.closePosition(key, snap)
		return
	}

	side := models.SideLong
	qty := snap.Qty
	if snap.Qty.Sign() < 0 {
		side = models.SideShort
		qty = snap.Qty.Neg()
	}

	if v, ok := d.states.Load(key); ok {
		d.refreshPosition(v.(*trackedState), side, qty, snap)
		return
	}

	d.openPosition(key, side, qty, snap)
}

// closePosition убирает состояние закрытой позиции
func (d *Dispatcher) closePosition(key models.PositionKey, snap PositionSnapshot) {
	if _, ok := d.states.Load(key); !ok {
		return
	}

	v, _ := d.states.Load(key)
	t := v.(*trackedState)
	t.mu.Lock()
	side := t.state.Side
	t.mu.Unlock()

	if err := d.store.Delete(key.AccountID, key.FIGI); err != nil && !errors.Is(err, repository.ErrStateNotFound) {
		d.log.Error("failed to delete closed position state",
			utils.Account(key.AccountID), utils.FIGI(key.FIGI), utils.Err(err))
	}

	d.append(&models.RiskEvent{
		AccountID: key.AccountID,
		FIGI:      key.FIGI,
		EventType: models.EventPositionClosed,
		Side:      side,
		CreatedAt: snap.Time,
	})

	d.unregister(key)
}

// refreshPosition обновляет существующее состояние под свежий снимок.
// Watermark'и не сбрасываются: позиция та же, изменился только размер
// или средняя цена (доливка).
func (d *Dispatcher) refreshPosition(t *trackedState, side string, qty decimal.Decimal, snap PositionSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	if !t.state.QtySnapshot.Equal(qty) {
		t.state.QtySnapshot = qty
		changed = true
	}
	if !t.state.AvgPriceSnapshot.Equal(snap.AvgPrice) {
		t.state.AvgPriceSnapshot = snap.AvgPrice
		t.state.EntryPrice = snap.AvgPrice
		// Средняя цена могла выйти за пределы watermark'ов
		UpdateWatermarks(&t.state, snap.AvgPrice)
		t.state.StopLossLevel = EffectiveStopLevel(&t.state)
		t.state.TakeProfitLevel = TakeLevel(&t.state)
		changed = true
	}
	if t.state.Side != side {
		// Разворот через ноль без промежуточного нулевого снимка:
		// трактуем как новую позицию
		t.state.Side = side
		t.state.EntryPrice = snap.AvgPrice
		t.state.HighWatermark = snap.AvgPrice
		t.state.LowWatermark = snap.AvgPrice
		t.state.StopLossLevel = EffectiveStopLevel(&t.state)
		t.state.TakeProfitLevel = TakeLevel(&t.state)
		t.state.PendingClose = false
		changed = true
	}

	if !changed {
		return
	}

	if err := d.persist(&t.state); err != nil {
		if errors.Is(err, repository.ErrStaleWatermark) {
			// Разворот сбрасывает watermark'и, guard это отвергает штатным
			// Upsert'ом; удаляем строку и записываем заново
			if derr := d.store.Delete(t.state.AccountID, t.state.FIGI); derr == nil {
				if perr := d.persist(&t.state); perr == nil {
					return
				}
			}
		}
		d.log.Error("failed to persist refreshed position",
			utils.Account(t.state.AccountID), utils.FIGI(t.state.FIGI), utils.Err(err))
	}
}

// openPosition создает состояние для новой позиции с дефолтами из правил
func (d *Dispatcher) openPosition(key models.PositionKey, side string, qty decimal.Decimal, snap PositionSnapshot) {
	slPct, tpPct, trailingPct := d.defaults.DefaultsFor(key.FIGI)

	state := &models.PositionRiskState{
		AccountID:        key.AccountID,
		FIGI:             key.FIGI,
		Side:             side,
		StopLossPct:      slPct,
		TakeProfitPct:    tpPct,
		TrailingPct:      trailingPct,
		EntryPrice:       snap.AvgPrice,
		AvgPriceSnapshot: snap.AvgPrice,
		QtySnapshot:      qty,
		HighWatermark:    snap.AvgPrice,
		LowWatermark:     snap.AvgPrice,
		TrailingType:     models.TrailingNone,
		MinStepTicks:     d.cfg.MinStepTicks,
		Source:           models.SourceRule,
	}
	if trailingPct != nil {
		state.TrailingType = models.TrailingPercent
	}

	state.StopLossLevel = EffectiveStopLevel(state)
	state.TakeProfitLevel = TakeLevel(state)

	if state.Unprotected() {
		d.log.Warn("position opened without protection",
			utils.Account(key.AccountID), utils.FIGI(key.FIGI), utils.Side(side))
	}

	if err := d.persist(state); err != nil {
		d.log.Error("failed to persist new position state",
			utils.Account(key.AccountID), utils.FIGI(key.FIGI), utils.Err(err))
		return
	}

	d.register(state)
	d.log.Info("position tracked",
		utils.Account(key.AccountID), utils.FIGI(key.FIGI),
		utils.Side(side), utils.Price(snap.AvgPrice.String()), utils.Qty(qty.String()))
}

// UpdateState применяет ручное изменение параметров к отслеживаемой
// позиции: мутация под локом, пересчет уровней, запись. Watermark'и
// изменение процентов не трогает.
func (d *Dispatcher) UpdateState(key models.PositionKey, mutate func(*models.PositionRiskState) error) (models.PositionRiskState, error) {
	v, ok := d.states.Load(key)
	if !ok {
		return models.PositionRiskState{}, repository.ErrStateNotFound
	}
	t := v.(*trackedState)

	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.state.Clone()
	if err := mutate(&next); err != nil {
		return models.PositionRiskState{}, err
	}
	if err := next.Validate(); err != nil {
		return models.PositionRiskState{}, err
	}

	next.StopLossLevel = EffectiveStopLevel(&next)
	next.TakeProfitLevel = TakeLevel(&next)

	if err := d.persist(&next); err != nil {
		return models.PositionRiskState{}, err
	}

	t.state = next
	return next.Clone(), nil
}
