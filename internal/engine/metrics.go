package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка риска
// ============================================================
//
// Основные вопросы к мониторингу:
// - Латентность Tick → защитный ордер
// - Частота срабатываний стопов и тейков
// - Сколько тиков вытеснено более свежими (supersede)
// - Отказы ордеров (panic, лимит минуты)

// TickToActionLatency - время от получения тика до завершения оценки
// (включая запись состояния и отправку ордера при триггере)
var TickToActionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "riskengine",
		Subsystem: "engine",
		Name:      "tick_to_action_latency_ms",
		Help:      "Latency from price tick to completed evaluation in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250},
	},
	[]string{"outcome"}, // noop, trailing_update, trigger
)

// TicksProcessed - обработанные тики по инструментам
var TicksProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskengine",
		Subsystem: "engine",
		Name:      "ticks_processed_total",
		Help:      "Total number of processed price ticks",
	},
	[]string{"figi"},
)

// TicksSuperseded - тики, вытесненные более свежей ценой до обработки
var TicksSuperseded = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskengine",
		Subsystem: "engine",
		Name:      "ticks_superseded_total",
		Help:      "Total number of ticks replaced by a fresher price before evaluation",
	},
)

// TriggersTotal - срабатывания защитных ног
var TriggersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskengine",
		Subsystem: "engine",
		Name:      "triggers_total",
		Help:      "Total number of stop loss / take profit triggers",
	},
	[]string{"type", "side"}, // type: stop_loss, take_profit
)

// TrailingUpdates - подтяжки трейлинг-стопа
var TrailingUpdates = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskengine",
		Subsystem: "engine",
		Name:      "trailing_updates_total",
		Help:      "Total number of trailing stop level moves",
	},
)

// OrdersRejected - защитные ордера, не отправленные брокеру
var OrdersRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskengine",
		Subsystem: "engine",
		Name:      "orders_rejected_total",
		Help:      "Total number of protective orders refused before submission",
	},
	[]string{"reason"}, // panic, rate_limit, broker_error
)

// OrdersPlaced - отправленные защитные ордера
var OrdersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskengine",
		Subsystem: "engine",
		Name:      "orders_placed_total",
		Help:      "Total number of protective orders submitted to the broker",
	},
	[]string{"type"},
)

// ActivePositions - количество отслеживаемых позиций
var ActivePositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskengine",
		Subsystem: "engine",
		Name:      "active_positions",
		Help:      "Number of positions currently tracked by the engine",
	},
)

// StaleWatermarkRejections - отказы записи из-за отката watermark
var StaleWatermarkRejections = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskengine",
		Subsystem: "engine",
		Name:      "stale_watermark_rejections_total",
		Help:      "Total number of state writes rejected by the watermark guard",
	},
)

// StorageRetries - повторные попытки записи при сбоях хранилища
var StorageRetries = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskengine",
		Subsystem: "engine",
		Name:      "storage_retries_total",
		Help:      "Total number of storage write retries",
	},
)
