package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - конфигурация логирования
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // путь к файлу; пусто = stderr
	Development bool   // режим разработки (caller, stacktrace на warn)
}

// Logger - обертка над zap с доменными конструкторами полей
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// InitLogger создает и настраивает logger. Никогда не возвращает nil:
// при недоступном файле вывода откатывается на stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	var encoderCfg zapcore.EncoderConfig
	if cfg.Development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "ts"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	sink := zapcore.AddSync(os.Stderr)
	if cfg.Output != "" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			sink = zapcore.AddSync(file)
		}
	}

	core := zapcore.NewCore(encoder, sink, level)

	opts := []zap.Option{}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}

	zl := zap.New(core, opts...)
	return &Logger{
		Logger: zl,
		sugar:  zl.Sugar(),
	}
}

// parseLevel конвертирует строку в уровень zap (по умолчанию info)
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// With возвращает дочерний logger с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// WithComponent возвращает logger с полем component
func (l *Logger) WithComponent(component string) *Logger {
	return l.With(Component(component))
}

// WithAccount возвращает logger с полем account_id
func (l *Logger) WithAccount(accountID string) *Logger {
	return l.With(Account(accountID))
}

// WithFIGI возвращает logger с полем figi
func (l *Logger) WithFIGI(figi string) *Logger {
	return l.With(FIGI(figi))
}

// WithPosition возвращает logger с ключом позиции
func (l *Logger) WithPosition(accountID, figi string) *Logger {
	return l.With(Account(accountID), FIGI(figi))
}

// Sugar возвращает SugaredLogger для printf-style логирования
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Глобальный логгер
// ============================================================

// InitGlobalLogger инициализирует и устанавливает глобальный логгер
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger возвращает глобальный логгер, создавая дефолтный при необходимости
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - краткий алиас для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// Debug логирует через глобальный логгер
func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }

// Info логирует через глобальный логгер
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }

// Warn логирует через глобальный логгер
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }

// Error логирует через глобальный логгер
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// Fatal логирует через глобальный логгер и завершает процесс
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

// Debugf - printf-style debug через глобальный логгер
func Debugf(template string, args ...interface{}) { L().sugar.Debugf(template, args...) }

// Infof - printf-style info через глобальный логгер
func Infof(template string, args ...interface{}) { L().sugar.Infof(template, args...) }

// Warnf - printf-style warn через глобальный логгер
func Warnf(template string, args ...interface{}) { L().sugar.Warnf(template, args...) }

// Errorf - printf-style error через глобальный логгер
func Errorf(template string, args ...interface{}) { L().sugar.Errorf(template, args...) }

// ============================================================
// Доменные конструкторы полей
// ============================================================

// Account - поле account_id
func Account(accountID string) zap.Field { return zap.String("account_id", accountID) }

// FIGI - поле figi
func FIGI(figi string) zap.Field { return zap.String("figi", figi) }

// EventType - поле event_type
func EventType(eventType string) zap.Field { return zap.String("event_type", eventType) }

// Side - поле side (LONG/SHORT)
func Side(side string) zap.Field { return zap.String("side", side) }

// Price - поле price
func Price(price string) zap.Field { return zap.String("price", price) }

// Level - поле level (стоп или тейк)
func Level(level string) zap.Field { return zap.String("level", level) }

// Watermark - поле watermark
func Watermark(watermark string) zap.Field { return zap.String("watermark", watermark) }

// Qty - поле qty
func Qty(qty string) zap.Field { return zap.String("qty", qty) }

// OrderID - поле order_id
func OrderID(orderID string) zap.Field { return zap.String("order_id", orderID) }

// Shard - поле shard
func Shard(shard int) zap.Field { return zap.Int("shard", shard) }

// Latency - поле latency_ms
func Latency(ms float64) zap.Field { return zap.Float64("latency_ms", ms) }

// RequestID - поле request_id
func RequestID(requestID string) zap.Field { return zap.String("request_id", requestID) }

// Component - поле component
func Component(component string) zap.Field { return zap.String("component", component) }

// Переэкспорт стандартных конструкторов zap
var (
	String  = zap.String
	Int     = zap.Int
	Int64   = zap.Int64
	Float64 = zap.Float64
	Bool    = zap.Bool
	Err     = zap.Error
	Any     = zap.Any
	Dur     = zap.Duration
)

// fieldsToInterface конвертирует zap-поля в пары ключ-значение для sugar
func fieldsToInterface(fields []zap.Field) []interface{} {
	result := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		var value interface{}
		switch {
		case f.Interface != nil:
			value = f.Interface
		case f.String != "":
			value = f.String
		default:
			value = f.Integer
		}
		result = append(result, f.Key, value)
	}
	return result
}
