package service

import (
	"errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/models"
	"riskengine/internal/repository"
	"riskengine/pkg/utils"
)

// Дефолтные защитные параметры: применяются к новым позициям, для
// инструментов которых нет собственного правила
var (
	DefaultStopLossPct   = decimal.RequireFromString("0.02")
	DefaultTakeProfitPct = decimal.RequireFromString("0.06")
	DefaultTrailingPct   = decimal.RequireFromString("0.03")
)

var ErrRuleLegsMissing = errors.New("rule must define at least one protective leg")

// RuleService управляет правилами риска по инструментам и отдает
// дефолты движку при открытии новых позиций.
type RuleService struct {
	ruleRepo  RuleRepositoryInterface
	eventRepo EventRepositoryInterface
	log       *utils.Logger
}

// NewRuleService создает новый экземпляр RuleService
func NewRuleService(ruleRepo RuleRepositoryInterface, eventRepo EventRepositoryInterface, log *utils.Logger) *RuleService {
	return &RuleService{
		ruleRepo:  ruleRepo,
		eventRepo: eventRepo,
		log:       log.WithComponent("rule_service"),
	}
}

// DefaultsFor возвращает проценты для новой позиции инструмента:
// активное правило инструмента, иначе глобальные дефолты.
// Реализует DefaultsProvider движка.
func (s *RuleService) DefaultsFor(figi string) (*decimal.Decimal, *decimal.Decimal, *decimal.Decimal) {
	trailing := DefaultTrailingPct

	rule, err := s.ruleRepo.GetByFIGI(figi)
	if err != nil {
		if !errors.Is(err, repository.ErrRuleNotFound) {
			// Хранилище недоступно - лучше глобальные дефолты, чем позиция
			// без защиты
			s.log.Warn("failed to load rule, using global defaults",
				utils.FIGI(figi), utils.Err(err))
		}
		sl := DefaultStopLossPct
		tp := DefaultTakeProfitPct
		return &sl, &tp, &trailing
	}

	if !rule.Active {
		sl := DefaultStopLossPct
		tp := DefaultTakeProfitPct
		return &sl, &tp, &trailing
	}

	return rule.StopLossPct, rule.TakeProfitPct, &trailing
}

// GetRule возвращает правило инструмента
func (s *RuleService) GetRule(figi string) (*models.RiskRule, error) {
	if err := utils.ValidateFIGI(figi); err != nil {
		return nil, err
	}
	return s.ruleRepo.GetByFIGI(figi)
}

// ListRules возвращает все правила
func (s *RuleService) ListRules(activeOnly bool) ([]*models.RiskRule, error) {
	return s.ruleRepo.List(activeOnly)
}

// UpsertRuleRequest - запрос создания или изменения правила
type UpsertRuleRequest struct {
	FIGI          string           `json:"figi"`
	StopLossPct   *decimal.Decimal `json:"stop_loss_pct,omitempty"`
	TakeProfitPct *decimal.Decimal `json:"take_profit_pct,omitempty"`
	Active        *bool            `json:"active,omitempty"`
}

// UpsertRule создает или обновляет правило инструмента и фиксирует
// изменение в журнале (RULE_CREATED / RULE_UPDATED).
//
// Уже открытые позиции правка правила не трогает: они унаследовали
// проценты при открытии, массовый перевод делается миграцией.
func (s *RuleService) UpsertRule(req *UpsertRuleRequest) (*models.RiskRule, error) {
	if err := utils.ValidateFIGI(req.FIGI); err != nil {
		return nil, err
	}
	if req.StopLossPct == nil && req.TakeProfitPct == nil {
		return nil, ErrRuleLegsMissing
	}
	if req.StopLossPct != nil {
		if err := utils.ValidatePercent("stop_loss_pct", *req.StopLossPct); err != nil {
			return nil, err
		}
	}
	if req.TakeProfitPct != nil {
		if err := utils.ValidatePercent("take_profit_pct", *req.TakeProfitPct); err != nil {
			return nil, err
		}
	}

	rule := &models.RiskRule{
		FIGI:          req.FIGI,
		StopLossPct:   req.StopLossPct,
		TakeProfitPct: req.TakeProfitPct,
		Active:        true,
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	inserted, err := s.ruleRepo.Upsert(rule)
	if err != nil {
		return nil, err
	}

	eventType := models.EventRuleUpdated
	if inserted {
		eventType = models.EventRuleCreated
	}
	if _, err := s.eventRepo.Append(&models.RiskEvent{
		FIGI:      rule.FIGI,
		EventType: eventType,
		NewValue:  rule.StopLossPct,
		Details: map[string]string{
			"version": strconv.Itoa(rule.Version),
		},
		CreatedAt: time.Now(),
	}); err != nil {
		s.log.Error("failed to append rule event",
			utils.FIGI(rule.FIGI), utils.EventType(eventType), utils.Err(err))
	}

	s.log.Info("rule upserted",
		utils.FIGI(rule.FIGI), utils.EventType(eventType),
		utils.Int("version", rule.Version))
	return rule, nil
}
