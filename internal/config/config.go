package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Broker   BrokerConfig
	Engine   EngineConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns int
	MaxIdleConns int
}

// BrokerConfig - настройки подключения к брокеру
type BrokerConfig struct {
	BaseURL   string
	StreamURL string
	Token     string

	// Лимит REST запросов в секунду
	RequestsPerSecond int

	// WebSocket настройки (event-driven, без polling)
	WSReconnectDelay time.Duration
	WSMaxReconnect   time.Duration
	WSPingInterval   time.Duration
	WSReadTimeout    time.Duration
}

// EngineConfig - настройки движка оценки риска
type EngineConfig struct {
	NumShards     int
	QueueCapacity int

	OrderTimeout   time.Duration
	StorageTimeout time.Duration

	// Предохранитель: максимум защитных ордеров в календарную минуту
	// (0 = без лимита)
	MaxOrdersPerMinute int

	// Минимальный шаг цены для округления уровней
	MinStepTicks string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			Name:         getEnv("DB_NAME", "riskengine"),
			User:         getEnv("DB_USER", "riskengine"),
			Password:     getEnv("DB_PASSWORD", ""),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Broker: BrokerConfig{
			BaseURL:           getEnv("BROKER_BASE_URL", "https://invest-api.example.com"),
			StreamURL:         getEnv("BROKER_STREAM_URL", "wss://invest-api.example.com/stream"),
			Token:             getEnv("BROKER_TOKEN", ""),
			RequestsPerSecond: getEnvAsInt("BROKER_RPS", 50),
			WSReconnectDelay:  getEnvAsDuration("WS_RECONNECT_DELAY", 2*time.Second),
			WSMaxReconnect:    getEnvAsDuration("WS_MAX_RECONNECT_DELAY", 16*time.Second),
			WSPingInterval:    getEnvAsDuration("WS_PING_INTERVAL", 30*time.Second),
			WSReadTimeout:     getEnvAsDuration("WS_READ_TIMEOUT", 10*time.Second),
		},
		Engine: EngineConfig{
			NumShards:          getEnvAsInt("ENGINE_SHARDS", 0), // 0 = NumCPU
			QueueCapacity:      getEnvAsInt("ENGINE_QUEUE_CAPACITY", 1024),
			OrderTimeout:       getEnvAsDuration("ORDER_TIMEOUT", 5*time.Second),
			StorageTimeout:     getEnvAsDuration("STORAGE_TIMEOUT", 3*time.Second),
			MaxOrdersPerMinute: getEnvAsInt("MAX_ORDERS_PER_MINUTE", 10),
			MinStepTicks:       getEnv("MIN_STEP_TICKS", "0.01"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate проверяет обязательные параметры и числовые диапазоны
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Broker.Token == "" {
		return fmt.Errorf("BROKER_TOKEN is required")
	}
	if c.Broker.RequestsPerSecond < 1 {
		return fmt.Errorf("BROKER_RPS must be positive, got %d", c.Broker.RequestsPerSecond)
	}
	if c.Broker.WSReadTimeout <= 0 {
		return fmt.Errorf("WS_READ_TIMEOUT must be positive, got %v", c.Broker.WSReadTimeout)
	}

	if c.Engine.NumShards < 0 {
		return fmt.Errorf("ENGINE_SHARDS cannot be negative, got %d", c.Engine.NumShards)
	}
	if c.Engine.QueueCapacity < 1 {
		return fmt.Errorf("ENGINE_QUEUE_CAPACITY must be positive, got %d", c.Engine.QueueCapacity)
	}
	if c.Engine.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %v", c.Engine.OrderTimeout)
	}
	if c.Engine.StorageTimeout <= 0 {
		return fmt.Errorf("STORAGE_TIMEOUT must be positive, got %v", c.Engine.StorageTimeout)
	}
	if c.Engine.MaxOrdersPerMinute < 0 {
		return fmt.Errorf("MAX_ORDERS_PER_MINUTE cannot be negative, got %d", c.Engine.MaxOrdersPerMinute)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
