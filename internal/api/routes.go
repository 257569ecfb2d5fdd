package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskengine/internal/api/handlers"
	"riskengine/internal/api/middleware"
	"riskengine/internal/service"
	"riskengine/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	RiskService      service.RiskServiceInterface
	RuleService      service.RuleServiceInterface
	MigrationService service.MigrationServiceInterface
	ControlService   service.ControlServiceInterface
	Logger           *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения.
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /risk/
//	│   ├── GET /states - список активных состояний риска
//	│   ├── GET /states/{account_id}/{figi} - состояние позиции
//	│   ├── PATCH /states/{account_id}/{figi} - ручное изменение параметров
//	│   └── GET /events - журнал событий
//	├── /rules/
//	│   ├── GET / - список правил
//	│   ├── GET /{figi} - правило инструмента
//	│   ├── PUT /{figi} - создать или обновить правило
//	│   └── POST /migrate - bulk-миграция дефолтов
//	└── /control/
//	    ├── GET / - состояние предохранителя
//	    ├── POST /panic - включить аварийный выключатель
//	    ├── DELETE /panic - выключить аварийный выключатель
//	    ├── PUT /order-limit - изменить лимит ордеров в минуту
//	    └── POST /cancel-all - отменить все висящие ордера счета
//
// /metrics - Prometheus метрики
// /health - liveness probe
//
// Middleware применяется в порядке: Recovery, Logging, CORS.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	log := deps.Logger
	if log == nil {
		log = utils.GetGlobalLogger()
	}

	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logging(log))
	router.Use(middleware.CORS)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps.RiskService != nil {
		riskHandler := handlers.NewRiskHandler(deps.RiskService)
		api.HandleFunc("/risk/states", riskHandler.ListStates).Methods("GET")
		api.HandleFunc("/risk/states/{account_id}/{figi}", riskHandler.GetState).Methods("GET")
		api.HandleFunc("/risk/states/{account_id}/{figi}", riskHandler.UpdateState).Methods("PATCH")
		api.HandleFunc("/risk/events", riskHandler.ListEvents).Methods("GET")
	}

	if deps.RuleService != nil {
		ruleHandler := handlers.NewRuleHandler(deps.RuleService, deps.MigrationService)
		api.HandleFunc("/rules", ruleHandler.ListRules).Methods("GET")
		api.HandleFunc("/rules/migrate", ruleHandler.Migrate).Methods("POST")
		api.HandleFunc("/rules/{figi}", ruleHandler.GetRule).Methods("GET")
		api.HandleFunc("/rules/{figi}", ruleHandler.UpsertRule).Methods("PUT")
	}

	if deps.ControlService != nil {
		controlHandler := handlers.NewControlHandler(deps.ControlService)
		api.HandleFunc("/control", controlHandler.GetStatus).Methods("GET")
		api.HandleFunc("/control/panic", controlHandler.EngagePanic).Methods("POST")
		api.HandleFunc("/control/panic", controlHandler.ReleasePanic).Methods("DELETE")
		api.HandleFunc("/control/order-limit", controlHandler.SetOrderLimit).Methods("PUT")
		api.HandleFunc("/control/cancel-all", controlHandler.CancelAll).Methods("POST")
	}

	return router
}
