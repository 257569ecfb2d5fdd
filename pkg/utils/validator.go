package utils

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// FIGI: 12 символов, буквы и цифры (например BBG004730N88)
var figiPattern = regexp.MustCompile(`^[A-Z0-9]{12}$`)

// ValidateFIGI проверяет формат идентификатора инструмента
func ValidateFIGI(figi string) error {
	if figi == "" {
		return fmt.Errorf("figi is required")
	}
	if !figiPattern.MatchString(figi) {
		return fmt.Errorf("invalid figi format: %q", figi)
	}
	return nil
}

// ValidateAccountID проверяет идентификатор счета
func ValidateAccountID(accountID string) error {
	if accountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if len(accountID) > 64 {
		return fmt.Errorf("account_id too long: %d chars", len(accountID))
	}
	return nil
}

// ValidatePercent проверяет процентную долю: строго в интервале (0, 1).
// 0.02 = 2%. Единица и выше означала бы стоп ниже нуля.
func ValidatePercent(name string, pct decimal.Decimal) error {
	if pct.Sign() <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, pct)
	}
	if pct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be less than 1, got %s", name, pct)
	}
	return nil
}

// ValidatePrice проверяет цену (> 0)
func ValidatePrice(name string, price decimal.Decimal) error {
	if price.Sign() <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, price)
	}
	return nil
}

// ValidateLimit проверяет лимит выборки (1..1000), 0 заменяется дефолтом
func ValidateLimit(limit int) (int, error) {
	const defaultLimit = 50
	const maxLimit = 1000

	if limit == 0 {
		return defaultLimit, nil
	}
	if limit < 0 || limit > maxLimit {
		return 0, fmt.Errorf("limit must be in [1, %d], got %d", maxLimit, limit)
	}
	return limit, nil
}
