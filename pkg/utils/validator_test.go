package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateFIGI(t *testing.T) {
	tests := []struct {
		figi    string
		wantErr bool
	}{
		{"BBG004730N88", false},
		{"BBG000B9XRY4", false},
		{"", true},
		{"short", true},
		{"bbg004730n88", true},  // нижний регистр
		{"BBG004730N88X", true}, // 13 символов
	}

	for _, tt := range tests {
		t.Run(tt.figi, func(t *testing.T) {
			err := ValidateFIGI(tt.figi)
			if tt.wantErr && err == nil {
				t.Errorf("ValidateFIGI(%q) expected error", tt.figi)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateFIGI(%q) unexpected error: %v", tt.figi, err)
			}
		})
	}
}

func TestValidateAccountID(t *testing.T) {
	if err := ValidateAccountID("acc-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateAccountID(""); err == nil {
		t.Error("empty account_id must fail")
	}
}

func TestValidatePercent(t *testing.T) {
	tests := []struct {
		name    string
		pct     string
		wantErr bool
	}{
		{"two percent", "0.02", false},
		{"just under one", "0.99", false},
		{"zero", "0", true},
		{"negative", "-0.05", true},
		{"one", "1", true},
		{"above one", "1.5", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct, _ := decimal.NewFromString(tt.pct)
			err := ValidatePercent("stop_loss_pct", pct)
			if tt.wantErr && err == nil {
				t.Errorf("ValidatePercent(%s) expected error", tt.pct)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidatePercent(%s) unexpected error: %v", tt.pct, err)
			}
		})
	}
}

func TestValidateLimit(t *testing.T) {
	if limit, err := ValidateLimit(0); err != nil || limit != 50 {
		t.Errorf("zero limit must map to default, got %d, %v", limit, err)
	}
	if _, err := ValidateLimit(-1); err == nil {
		t.Error("negative limit must fail")
	}
	if _, err := ValidateLimit(1001); err == nil {
		t.Error("limit above max must fail")
	}
	if limit, err := ValidateLimit(100); err != nil || limit != 100 {
		t.Errorf("valid limit must pass through, got %d, %v", limit, err)
	}
}
