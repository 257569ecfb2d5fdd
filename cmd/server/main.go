package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/api"
	"riskengine/internal/broker"
	"riskengine/internal/config"
	"riskengine/internal/engine"
	"riskengine/internal/repository"
	"riskengine/internal/service"
	"riskengine/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Инициализация логгера
	log := utils.InitLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	utils.SetGlobalLogger(log)
	defer log.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatal("failed to connect to database",
			utils.String("dsn", cfg.Database.DSNWithoutPassword()), utils.Err(err))
	}
	defer db.Close()

	log.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Инициализация репозиториев
	stateRepo := repository.NewStateRepository(db)
	eventRepo := repository.NewEventRepository(db)
	ruleRepo := repository.NewRuleRepository(db)

	// Клиент брокера и предохранитель
	brokerClient := broker.NewHTTPClient(
		cfg.Broker.BaseURL,
		cfg.Broker.Token,
		float64(cfg.Broker.RequestsPerSecond),
		log,
	)
	interlock := engine.NewInterlock(cfg.Engine.MaxOrdersPerMinute)

	// Сервис правил отдает движку дефолты для новых позиций
	ruleService := service.NewRuleService(ruleRepo, eventRepo, log)

	minStep, err := decimal.NewFromString(cfg.Engine.MinStepTicks)
	if err != nil {
		log.Fatal("invalid MIN_STEP_TICKS", utils.String("value", cfg.Engine.MinStepTicks), utils.Err(err))
	}

	// Диспетчер оценки риска
	dispatcher := engine.NewDispatcher(
		engine.Config{
			NumShards:      cfg.Engine.NumShards,
			QueueCapacity:  cfg.Engine.QueueCapacity,
			OrderTimeout:   cfg.Engine.OrderTimeout,
			StorageTimeout: cfg.Engine.StorageTimeout,
			MinStepTicks:   minStep,
		},
		stateRepo,
		eventRepo,
		brokerClient,
		ruleService,
		interlock,
		log,
	)

	// Поток котировок и позиций
	stream := broker.NewMarketStream(
		broker.StreamConfig{
			URL:          cfg.Broker.StreamURL,
			Token:        cfg.Broker.Token,
			InitialDelay: cfg.Broker.WSReconnectDelay,
			MaxDelay:     cfg.Broker.WSMaxReconnect,
			PingInterval: cfg.Broker.WSPingInterval,
			PongTimeout:  cfg.Broker.WSReadTimeout,
		},
		func(figi string, price decimal.Decimal, ts time.Time) {
			dispatcher.OnTick(engine.Tick{FIGI: figi, Price: price, Time: ts})
		},
		func(accountID, figi string, qty, avgPrice decimal.Decimal, ts time.Time) {
			dispatcher.OnPositionSnapshot(engine.PositionSnapshot{
				AccountID: accountID,
				FIGI:      figi,
				Qty:       qty,
				AvgPrice:  avgPrice,
				Time:      ts,
			})
		},
		log,
	)

	// Подписки ведет сам диспетчер: хук срабатывает и для состояний,
	// загруженных на старте, и для позиций, открытых на лету
	dispatcher.SetOnTrack(func(accountID, figi string) {
		if err := stream.SubscribeTicks(figi); err != nil {
			log.Warn("failed to subscribe to ticks", utils.FIGI(figi), utils.Err(err))
		}
		if err := stream.SubscribePositions(accountID); err != nil {
			log.Warn("failed to subscribe to positions",
				utils.Account(accountID), utils.Err(err))
		}
	})
	if err := dispatcher.Start(); err != nil {
		log.Fatal("failed to start dispatcher", utils.Err(err))
	}

	streamCtx, stopStream := context.WithCancel(context.Background())
	go func() {
		if err := stream.Run(streamCtx); err != nil && streamCtx.Err() == nil {
			log.Error("market stream stopped", utils.Err(err))
		}
	}()

	// Инициализация сервисов
	riskService := service.NewRiskService(stateRepo, eventRepo, dispatcher, log)
	migrationService := service.NewMigrationService(ruleRepo, stateRepo, log)
	controlService := service.NewControlService(interlock, brokerClient, log)

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		RiskService:      riskService,
		RuleService:      ruleService,
		MigrationService: migrationService,
		ControlService:   controlService,
		Logger:           log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", utils.Err(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// Останавливаем поток и диспетчер до HTTP сервера: новые тики
	// перестают поступать, начатые оценки довершаются
	stopStream()
	dispatcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", utils.Err(err))
	}

	log.Info("server stopped")
}

// initDatabase открывает подключение к PostgreSQL и проверяет его
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
