package service

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/models"
	"riskengine/internal/repository"
	"riskengine/pkg/utils"
)

// Ошибки сервиса риска
var (
	ErrInvalidTrailingType = errors.New("trailing_type must be NONE, PERCENT or ABSOLUTE")
	ErrTrailingPctMissing  = errors.New("trailing_pct is required for PERCENT trailing")
	ErrTrailingAbsMissing  = errors.New("trailing_abs is required for ABSOLUTE trailing")
)

// RiskService предоставляет чтение состояний риска и ручное управление
// параметрами отдельных позиций.
//
// Чтение идет из БД (единственный персистентный источник), запись - через
// живой реестр движка, чтобы оценки следующего тика сразу видели новые
// параметры.
type RiskService struct {
	stateRepo StateRepositoryInterface
	eventRepo EventRepositoryInterface
	updater   StateUpdaterInterface
	log       *utils.Logger
}

// NewRiskService создает новый экземпляр RiskService
func NewRiskService(stateRepo StateRepositoryInterface, eventRepo EventRepositoryInterface, updater StateUpdaterInterface, log *utils.Logger) *RiskService {
	return &RiskService{
		stateRepo: stateRepo,
		eventRepo: eventRepo,
		updater:   updater,
		log:       log.WithComponent("risk_service"),
	}
}

// GetState возвращает состояние риска позиции
func (s *RiskService) GetState(accountID, figi string) (*models.PositionRiskState, error) {
	if err := utils.ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	if err := utils.ValidateFIGI(figi); err != nil {
		return nil, err
	}
	return s.stateRepo.Get(accountID, figi)
}

// ListStatesRequest - фильтры выборки состояний
type ListStatesRequest struct {
	AccountID string `json:"account_id,omitempty"`
	FIGI      string `json:"figi,omitempty"`
	WithStop  bool   `json:"with_stop,omitempty"`
	WithTake  bool   `json:"with_take,omitempty"`
}

// ListStates возвращает активные состояния по фильтрам
func (s *RiskService) ListStates(req ListStatesRequest) ([]*models.PositionRiskState, error) {
	if req.AccountID != "" {
		if err := utils.ValidateAccountID(req.AccountID); err != nil {
			return nil, err
		}
	}
	if req.FIGI != "" {
		if err := utils.ValidateFIGI(req.FIGI); err != nil {
			return nil, err
		}
	}

	return s.stateRepo.ListActive(repository.StateFilter{
		AccountID: req.AccountID,
		FIGI:      req.FIGI,
		WithStop:  req.WithStop,
		WithTake:  req.WithTake,
	})
}

// UpdateStateRequest - запрос на ручное изменение параметров позиции.
// Все поля опциональны - применяются только переданные.
type UpdateStateRequest struct {
	StopLossPct   *decimal.Decimal `json:"stop_loss_pct,omitempty"`
	TakeProfitPct *decimal.Decimal `json:"take_profit_pct,omitempty"`
	TrailingType  *string          `json:"trailing_type,omitempty"`
	TrailingPct   *decimal.Decimal `json:"trailing_pct,omitempty"`
	TrailingAbs   *decimal.Decimal `json:"trailing_abs,omitempty"`

	// Явное отключение ноги
	ClearStopLoss   bool `json:"clear_stop_loss,omitempty"`
	ClearTakeProfit bool `json:"clear_take_profit,omitempty"`
}

// UpdateState применяет ручные параметры к позиции.
//
// Источник состояния становится MANUAL: последующие миграции дефолтов
// эту позицию не трогают. Watermark'и и расчет уровней изменение
// процентов не сбрасывает.
func (s *RiskService) UpdateState(accountID, figi string, req *UpdateStateRequest) (*models.PositionRiskState, error) {
	if err := utils.ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	if err := utils.ValidateFIGI(figi); err != nil {
		return nil, err
	}
	if err := s.validateUpdate(req); err != nil {
		return nil, err
	}

	key := models.PositionKey{AccountID: accountID, FIGI: figi}
	updated, err := s.updater.UpdateState(key, func(state *models.PositionRiskState) error {
		applyUpdate(state, req)
		state.Source = models.SourceManual
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("risk parameters updated manually",
		utils.Account(accountID), utils.FIGI(figi))
	return &updated, nil
}

func (s *RiskService) validateUpdate(req *UpdateStateRequest) error {
	if req.StopLossPct != nil {
		if err := utils.ValidatePercent("stop_loss_pct", *req.StopLossPct); err != nil {
			return err
		}
	}
	if req.TakeProfitPct != nil {
		if err := utils.ValidatePercent("take_profit_pct", *req.TakeProfitPct); err != nil {
			return err
		}
	}
	if req.TrailingPct != nil {
		if err := utils.ValidatePercent("trailing_pct", *req.TrailingPct); err != nil {
			return err
		}
	}
	if req.TrailingAbs != nil {
		if err := utils.ValidatePrice("trailing_abs", *req.TrailingAbs); err != nil {
			return err
		}
	}

	if req.TrailingType == nil {
		return nil
	}
	switch *req.TrailingType {
	case models.TrailingNone:
	case models.TrailingPercent:
		if req.TrailingPct == nil {
			return ErrTrailingPctMissing
		}
	case models.TrailingAbsolute:
		if req.TrailingAbs == nil {
			return ErrTrailingAbsMissing
		}
	default:
		return ErrInvalidTrailingType
	}
	return nil
}

func applyUpdate(state *models.PositionRiskState, req *UpdateStateRequest) {
	if req.ClearStopLoss {
		state.StopLossPct = nil
	} else if req.StopLossPct != nil {
		state.StopLossPct = req.StopLossPct
	}

	if req.ClearTakeProfit {
		state.TakeProfitPct = nil
	} else if req.TakeProfitPct != nil {
		state.TakeProfitPct = req.TakeProfitPct
	}

	if req.TrailingType != nil {
		state.TrailingType = *req.TrailingType
		if *req.TrailingType == models.TrailingNone {
			state.TrailingPct = nil
			state.TrailingAbs = nil
		}
	}
	if req.TrailingPct != nil {
		state.TrailingPct = req.TrailingPct
	}
	if req.TrailingAbs != nil {
		state.TrailingAbs = req.TrailingAbs
	}
}

// ListEventsRequest - фильтры выборки журнала
type ListEventsRequest struct {
	AccountID string    `json:"account_id,omitempty"`
	FIGI      string    `json:"figi,omitempty"`
	Since     time.Time `json:"since,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// ListEvents возвращает события журнала, новые первыми
func (s *RiskService) ListEvents(req ListEventsRequest) ([]*models.RiskEvent, error) {
	limit, err := utils.ValidateLimit(req.Limit)
	if err != nil {
		return nil, err
	}

	switch {
	case req.AccountID != "" && req.FIGI != "":
		if err := utils.ValidateFIGI(req.FIGI); err != nil {
			return nil, err
		}
		since := req.Since
		if since.IsZero() {
			since = time.Unix(0, 0)
		}
		return s.eventRepo.ByPosition(req.AccountID, req.FIGI, since, limit)
	case req.AccountID != "":
		return s.eventRepo.ByAccount(req.AccountID, limit)
	default:
		return s.eventRepo.Recent(limit)
	}
}
