package service

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/models"
	"riskengine/internal/repository"
	"riskengine/pkg/utils"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error"})
}

func strPtr(s string) *string {
	return &s
}

func testState() *models.PositionRiskState {
	return &models.PositionRiskState{
		AccountID:        "acc-1",
		FIGI:             "BBG004730N88",
		Side:             models.SideLong,
		StopLossPct:      decPtr("0.05"),
		TakeProfitPct:    decPtr("0.05"),
		StopLossLevel:    decPtr("95"),
		TakeProfitLevel:  decPtr("105"),
		HighWatermark:    dec("100"),
		LowWatermark:     dec("100"),
		EntryPrice:       dec("100"),
		AvgPriceSnapshot: dec("100"),
		QtySnapshot:      dec("10"),
		TrailingType:     models.TrailingNone,
		MinStepTicks:     dec("0.01"),
		Source:           models.SourceRule,
		UpdatedAt:        time.Now(),
	}
}

func newRiskService() (*RiskService, *MockStateRepository, *MockEventRepository, *MockStateUpdater) {
	stateRepo := NewMockStateRepository()
	eventRepo := NewMockEventRepository()
	updater := NewMockStateUpdater()
	return NewRiskService(stateRepo, eventRepo, updater, testLogger()), stateRepo, eventRepo, updater
}

func TestRiskServiceGetState(t *testing.T) {
	svc, stateRepo, _, _ := newRiskService()
	stateRepo.Upsert(testState())

	state, err := svc.GetState("acc-1", "BBG004730N88")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Side != models.SideLong {
		t.Errorf("unexpected side: %s", state.Side)
	}
}

func TestRiskServiceGetStateValidation(t *testing.T) {
	svc, _, _, _ := newRiskService()

	tests := []struct {
		name      string
		accountID string
		figi      string
	}{
		{"empty account", "", "BBG004730N88"},
		{"empty figi", "acc-1", ""},
		{"bad figi", "acc-1", "too-short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.GetState(tt.accountID, tt.figi); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRiskServiceGetStateNotFound(t *testing.T) {
	svc, _, _, _ := newRiskService()

	_, err := svc.GetState("acc-1", "BBG004730N88")
	if !errors.Is(err, repository.ErrStateNotFound) {
		t.Errorf("expected ErrStateNotFound, got %v", err)
	}
}

func TestRiskServiceListStates(t *testing.T) {
	svc, stateRepo, _, _ := newRiskService()
	stateRepo.Upsert(testState())

	other := testState()
	other.AccountID = "acc-2"
	other.StopLossLevel = nil
	stateRepo.Upsert(other)

	states, err := svc.ListStates(ListStatesRequest{AccountID: "acc-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("expected 1 state, got %d", len(states))
	}

	withStop, err := svc.ListStates(ListStatesRequest{WithStop: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(withStop) != 1 || withStop[0].AccountID != "acc-1" {
		t.Errorf("with_stop filter failed: %+v", withStop)
	}
}

func TestRiskServiceUpdateState(t *testing.T) {
	svc, _, _, updater := newRiskService()
	state := testState()
	updater.states[state.Key()] = state

	updated, err := svc.UpdateState("acc-1", "BBG004730N88", &UpdateStateRequest{
		StopLossPct: decPtr("0.03"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.StopLossPct.Equal(dec("0.03")) {
		t.Errorf("stop loss pct not applied: %s", updated.StopLossPct)
	}
	if updated.Source != models.SourceManual {
		t.Errorf("manual edit must set source MANUAL, got %s", updated.Source)
	}
}

func TestRiskServiceUpdateStateClearLeg(t *testing.T) {
	svc, _, _, updater := newRiskService()
	state := testState()
	updater.states[state.Key()] = state

	updated, err := svc.UpdateState("acc-1", "BBG004730N88", &UpdateStateRequest{
		ClearStopLoss: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.StopLossPct != nil {
		t.Error("stop loss must be cleared")
	}
	if updated.TakeProfitPct == nil {
		t.Error("take profit must stay untouched")
	}
}

func TestRiskServiceUpdateStateValidation(t *testing.T) {
	svc, _, _, updater := newRiskService()
	state := testState()
	updater.states[state.Key()] = state

	tests := []struct {
		name    string
		req     *UpdateStateRequest
		wantErr error
	}{
		{
			"percent trailing without pct",
			&UpdateStateRequest{TrailingType: strPtr(models.TrailingPercent)},
			ErrTrailingPctMissing,
		},
		{
			"absolute trailing without abs",
			&UpdateStateRequest{TrailingType: strPtr(models.TrailingAbsolute)},
			ErrTrailingAbsMissing,
		},
		{
			"unknown trailing type",
			&UpdateStateRequest{TrailingType: strPtr("STEPPED")},
			ErrInvalidTrailingType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateState("acc-1", "BBG004730N88", tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	// Проценты вне (0, 1)
	if _, err := svc.UpdateState("acc-1", "BBG004730N88", &UpdateStateRequest{
		StopLossPct: decPtr("1.5"),
	}); err == nil {
		t.Error("expected error for pct outside (0, 1)")
	}
}

func TestRiskServiceUpdateStateNotTracked(t *testing.T) {
	svc, _, _, _ := newRiskService()

	_, err := svc.UpdateState("acc-1", "BBG004730N88", &UpdateStateRequest{
		StopLossPct: decPtr("0.03"),
	})
	if !errors.Is(err, repository.ErrStateNotFound) {
		t.Errorf("expected ErrStateNotFound, got %v", err)
	}
}

func TestRiskServiceListEvents(t *testing.T) {
	svc, _, eventRepo, _ := newRiskService()
	eventRepo.Append(&models.RiskEvent{
		AccountID: "acc-1",
		FIGI:      "BBG004730N88",
		EventType: models.EventTrailingUpdated,
		CreatedAt: time.Now(),
	})
	eventRepo.Append(&models.RiskEvent{
		AccountID: "acc-2",
		FIGI:      "BBG000B9XRY4",
		EventType: models.EventStopLossTriggered,
		CreatedAt: time.Now(),
	})

	tests := []struct {
		name string
		req  ListEventsRequest
		want int
	}{
		{"by position", ListEventsRequest{AccountID: "acc-1", FIGI: "BBG004730N88"}, 1},
		{"by account", ListEventsRequest{AccountID: "acc-2"}, 1},
		{"recent", ListEventsRequest{}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := svc.ListEvents(tt.req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(events) != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, len(events))
			}
		})
	}
}

func TestRiskServiceListEventsLimitValidation(t *testing.T) {
	svc, _, _, _ := newRiskService()

	if _, err := svc.ListEvents(ListEventsRequest{Limit: 5000}); err == nil {
		t.Error("expected error for limit above maximum")
	}
}
