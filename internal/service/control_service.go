package service

import (
	"context"
	"errors"

	"riskengine/internal/engine"
	"riskengine/pkg/utils"
)

var ErrInvalidOrderLimit = errors.New("order limit must be >= 0")

// ControlService - аварийное управление движком: panic switch, лимит
// ордеров в минуту и массовая отмена висящих у брокера ордеров.
type ControlService struct {
	interlock *engine.Interlock
	broker    BrokerInterface
	log       *utils.Logger
}

// NewControlService создает новый экземпляр ControlService
func NewControlService(interlock *engine.Interlock, brokerClient BrokerInterface, log *utils.Logger) *ControlService {
	return &ControlService{
		interlock: interlock,
		broker:    brokerClient,
		log:       log.WithComponent("control_service"),
	}
}

// ControlStatus - текущее состояние предохранителя
type ControlStatus struct {
	PanicActive    bool `json:"panic_active"`
	OrderLimit     int  `json:"order_limit"`
	SlotsRemaining int  `json:"slots_remaining"` // -1 = без лимита
}

// Status возвращает состояние предохранителя
func (s *ControlService) Status() ControlStatus {
	return ControlStatus{
		PanicActive:    s.interlock.PanicActive(),
		OrderLimit:     s.interlock.OrderLimit(),
		SlotsRemaining: s.interlock.SlotsRemaining(),
	}
}

// EngagePanic включает аварийный выключатель.
// Возвращает false, если он уже был включен (повторный вызов безопасен).
func (s *ControlService) EngagePanic(reason string) bool {
	engaged := s.interlock.EngagePanic()
	if engaged {
		s.log.Warn("panic switch engaged", utils.String("reason", reason))
	}
	return engaged
}

// ReleasePanic выключает аварийный выключатель
func (s *ControlService) ReleasePanic() bool {
	released := s.interlock.ReleasePanic()
	if released {
		s.log.Warn("panic switch released")
	}
	return released
}

// SetOrderLimit изменяет лимит защитных ордеров в минуту.
// 0 отключает лимит; счетчик текущей минуты не сбрасывается.
func (s *ControlService) SetOrderLimit(limit int) error {
	if limit < 0 {
		return ErrInvalidOrderLimit
	}
	s.interlock.SetOrderLimit(limit)
	s.log.Info("order limit updated", utils.Int("limit", limit))
	return nil
}

// CancelAllResult - итог массовой отмены
type CancelAllResult struct {
	Cancelled int      `json:"cancelled"`
	Failed    []string `json:"failed,omitempty"` // order_id ордеров, которые отменить не удалось
}

// CancelAll отменяет все висящие у брокера ордера счета.
//
// Работает и при включенном panic switch: предохранитель блокирует
// только отправку новых ордеров, отмена существующих всегда разрешена.
func (s *ControlService) CancelAll(ctx context.Context, accountID string) (*CancelAllResult, error) {
	if err := utils.ValidateAccountID(accountID); err != nil {
		return nil, err
	}

	orders, err := s.broker.ListOpenOrders(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result := &CancelAllResult{}
	for _, order := range orders {
		if err := s.broker.CancelOrder(ctx, accountID, order.ID); err != nil {
			s.log.Error("failed to cancel order",
				utils.Account(accountID), utils.OrderID(order.ID), utils.Err(err))
			result.Failed = append(result.Failed, order.ID)
			continue
		}
		result.Cancelled++
	}

	s.log.Info("cancel-all finished",
		utils.Account(accountID),
		utils.Int("cancelled", result.Cancelled),
		utils.Int("failed", len(result.Failed)))
	return result, nil
}
