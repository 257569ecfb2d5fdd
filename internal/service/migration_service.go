package service

import (
	"github.com/shopspring/decimal"

	"riskengine/internal/models"
	"riskengine/pkg/utils"
)

// MigrationService выполняет bulk-перевод дефолтных процентов: правила
// инструмента плюс состояния, унаследовавшие старые значения из правил.
//
// Состояния с Source=MANUAL миграция не трогает - ручные настройки
// всегда важнее новых дефолтов.
type MigrationService struct {
	ruleRepo  RuleRepositoryInterface
	stateRepo StateRepositoryInterface
	log       *utils.Logger
}

// NewMigrationService создает новый экземпляр MigrationService
func NewMigrationService(ruleRepo RuleRepositoryInterface, stateRepo StateRepositoryInterface, log *utils.Logger) *MigrationService {
	return &MigrationService{
		ruleRepo:  ruleRepo,
		stateRepo: stateRepo,
		log:       log.WithComponent("migration_service"),
	}
}

// MigrateRequest - запрос миграции дефолтов инструмента
type MigrateRequest struct {
	FIGI        string          `json:"figi"`
	OldStopLoss decimal.Decimal `json:"old_stop_loss_pct"`
	OldTakePct  decimal.Decimal `json:"old_take_profit_pct"`
	NewStopLoss decimal.Decimal `json:"new_stop_loss_pct"`
	NewTakePct  decimal.Decimal `json:"new_take_profit_pct"`
	NewTrailing decimal.Decimal `json:"new_trailing_pct"`
}

// Migrate переводит правила и RULE-состояния инструмента со старых
// процентов на новые. Строки, измененные конкурентно после чтения
// снапшота, пропускаются и попадают в Conflicts - батч не прерывается.
func (s *MigrationService) Migrate(req *MigrateRequest) (*models.MigrationResult, error) {
	if err := utils.ValidateFIGI(req.FIGI); err != nil {
		return nil, err
	}
	if err := utils.ValidatePercent("old_stop_loss_pct", req.OldStopLoss); err != nil {
		return nil, err
	}
	if err := utils.ValidatePercent("old_take_profit_pct", req.OldTakePct); err != nil {
		return nil, err
	}
	if err := utils.ValidatePercent("new_stop_loss_pct", req.NewStopLoss); err != nil {
		return nil, err
	}
	if err := utils.ValidatePercent("new_take_profit_pct", req.NewTakePct); err != nil {
		return nil, err
	}
	if err := utils.ValidatePercent("new_trailing_pct", req.NewTrailing); err != nil {
		return nil, err
	}

	rulesUpdated, ruleConflicts, err := s.ruleRepo.MigrateDefaults(
		req.FIGI, req.OldStopLoss, req.OldTakePct, req.NewStopLoss, req.NewTakePct)
	if err != nil {
		return nil, err
	}

	statesUpdated, stateConflicts, err := s.stateRepo.MigrateRuleSourced(
		req.FIGI, req.OldStopLoss, req.OldTakePct,
		req.NewStopLoss, req.NewTakePct, req.NewTrailing)
	if err != nil {
		// Правила уже переведены - возвращаем частичный итог вместе с ошибкой
		return &models.MigrationResult{
			RulesUpdated: rulesUpdated,
			Conflicts:    ruleConflicts,
		}, err
	}

	result := &models.MigrationResult{
		RulesUpdated:  rulesUpdated,
		StatesUpdated: statesUpdated,
		Conflicts:     ruleConflicts + stateConflicts,
	}

	s.log.Info("defaults migration finished",
		utils.FIGI(req.FIGI),
		utils.Int("rules_updated", result.RulesUpdated),
		utils.Int("states_updated", result.StatesUpdated),
		utils.Int("conflicts", result.Conflicts))
	return result, nil
}
