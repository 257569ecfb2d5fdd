package service

import (
	"errors"
	"testing"
)

func newMigrationService() (*MigrationService, *MockRuleRepository, *MockStateRepository) {
	ruleRepo := NewMockRuleRepository()
	stateRepo := NewMockStateRepository()
	return NewMigrationService(ruleRepo, stateRepo, testLogger()), ruleRepo, stateRepo
}

func validMigrateRequest() *MigrateRequest {
	return &MigrateRequest{
		FIGI:        "BBG004730N88",
		OldStopLoss: dec("0.02"),
		OldTakePct:  dec("0.06"),
		NewStopLoss: dec("0.03"),
		NewTakePct:  dec("0.09"),
		NewTrailing: dec("0.03"),
	}
}

func TestMigrationServiceMigrate(t *testing.T) {
	svc, ruleRepo, stateRepo := newMigrationService()
	ruleRepo.migrateUpdated = 2
	ruleRepo.migrateConflicts = 1
	stateRepo.migrateUpdated = 5
	stateRepo.migrateConflicts = 2

	result, err := svc.Migrate(validMigrateRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RulesUpdated != 2 {
		t.Errorf("expected 2 rules updated, got %d", result.RulesUpdated)
	}
	if result.StatesUpdated != 5 {
		t.Errorf("expected 5 states updated, got %d", result.StatesUpdated)
	}
	if result.Conflicts != 3 {
		t.Errorf("conflicts must sum rules and states, got %d", result.Conflicts)
	}
}

func TestMigrationServiceValidation(t *testing.T) {
	svc, ruleRepo, stateRepo := newMigrationService()

	tests := []struct {
		name   string
		mutate func(*MigrateRequest)
	}{
		{"bad figi", func(r *MigrateRequest) { r.FIGI = "bad" }},
		{"zero old stop", func(r *MigrateRequest) { r.OldStopLoss = dec("0") }},
		{"new take above 1", func(r *MigrateRequest) { r.NewTakePct = dec("1.5") }},
		{"negative trailing", func(r *MigrateRequest) { r.NewTrailing = dec("-0.01") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validMigrateRequest()
			tt.mutate(req)
			if _, err := svc.Migrate(req); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	// Невалидный запрос не должен доходить до репозиториев
	if ruleRepo.migrateCalls != 0 || stateRepo.migrateCalls != 0 {
		t.Error("invalid requests must not touch repositories")
	}
}

func TestMigrationServiceRuleRepoError(t *testing.T) {
	svc, ruleRepo, stateRepo := newMigrationService()
	ruleRepo.migrateErr = errors.New("db down")

	if _, err := svc.Migrate(validMigrateRequest()); err == nil {
		t.Fatal("expected error")
	}
	if stateRepo.migrateCalls != 0 {
		t.Error("states must not be migrated when rule migration fails")
	}
}

func TestMigrationServiceStateRepoErrorReturnsPartialResult(t *testing.T) {
	svc, ruleRepo, stateRepo := newMigrationService()
	ruleRepo.migrateUpdated = 2
	stateRepo.migrateErr = errors.New("db down")

	result, err := svc.Migrate(validMigrateRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if result == nil || result.RulesUpdated != 2 {
		t.Errorf("partial result with migrated rules expected, got %+v", result)
	}
}
