package repository

import (
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"riskengine/internal/models"
)

var ErrRuleNotFound = errors.New("risk rule not found")

const ruleColumns = `id, figi, stop_loss_pct, take_profit_pct, active, version, updated_at`

// RuleRepository - работа с таблицей risk_rules
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository создает новый экземпляр репозитория
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// GetByFIGI возвращает правило для инструмента
func (r *RuleRepository) GetByFIGI(figi string) (*models.RiskRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM risk_rules
		WHERE figi = $1`

	rule, err := scanRule(r.db.QueryRow(query, figi))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, unavailable(err)
	}

	return rule, nil
}

// List возвращает все правила
func (r *RuleRepository) List(activeOnly bool) ([]*models.RiskRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM risk_rules`
	if activeOnly {
		query += " WHERE active = true"
	}
	query += " ORDER BY figi"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var rules []*models.RiskRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		rules = append(rules, rule)
	}

	if err = rows.Err(); err != nil {
		return nil, unavailable(err)
	}

	return rules, nil
}

// Upsert вставляет или обновляет правило по figi.
// Версия инкрементируется при каждом изменении. Возвращает true при вставке.
func (r *RuleRepository) Upsert(rule *models.RiskRule) (bool, error) {
	query := `
		INSERT INTO risk_rules (figi, stop_loss_pct, take_profit_pct, active, version, updated_at)
		VALUES ($1, $2, $3, $4, 1, NOW())
		ON CONFLICT (figi) DO UPDATE SET
			stop_loss_pct = EXCLUDED.stop_loss_pct,
			take_profit_pct = EXCLUDED.take_profit_pct,
			active = EXCLUDED.active,
			version = risk_rules.version + 1,
			updated_at = NOW()
		RETURNING id, version, (version = 1) AS inserted`

	var inserted bool
	err := r.db.QueryRow(
		query,
		rule.FIGI,
		nullDec(rule.StopLossPct),
		nullDec(rule.TakeProfitPct),
		rule.Active,
	).Scan(&rule.ID, &rule.Version, &inserted)
	if err != nil {
		return false, unavailable(err)
	}

	return inserted, nil
}

// MigrateDefaults переводит все правила со старых дефолтов на новые.
// CAS по version: правило, измененное кем-то после чтения снапшота,
// пропускается и считается конфликтом. Батч идет в одной транзакции.
// figi != "" сужает область миграции до одного инструмента.
func (r *RuleRepository) MigrateDefaults(figi string, oldSL, oldTP, newSL, newTP decimal.Decimal) (updated, conflicts int, err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, 0, unavailable(err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, version
		FROM risk_rules
		WHERE stop_loss_pct = $1 AND take_profit_pct = $2`
	args := []interface{}{oldSL, oldTP}
	if figi != "" {
		query += " AND figi = $3"
		args = append(args, figi)
	}

	rows, err := tx.Query(query, args...)
	if err != nil {
		return 0, 0, unavailable(err)
	}

	type snapshot struct {
		id      int
		version int
	}
	var snapshots []snapshot
	for rows.Next() {
		var s snapshot
		if err := rows.Scan(&s.id, &s.version); err != nil {
			rows.Close()
			return 0, 0, unavailable(err)
		}
		snapshots = append(snapshots, s)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return 0, 0, unavailable(err)
	}
	rows.Close()

	update := `
		UPDATE risk_rules
		SET stop_loss_pct = $1, take_profit_pct = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4`

	for _, s := range snapshots {
		result, err := tx.Exec(update, newSL, newTP, s.id, s.version)
		if err != nil {
			return 0, 0, unavailable(err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, 0, unavailable(err)
		}
		if n == 0 {
			conflicts++
			continue
		}
		updated++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, unavailable(err)
	}

	return updated, conflicts, nil
}

func scanRule(row scanner) (*models.RiskRule, error) {
	rule := &models.RiskRule{}
	var slPct, tpPct decimal.NullDecimal

	err := row.Scan(
		&rule.ID,
		&rule.FIGI,
		&slPct,
		&tpPct,
		&rule.Active,
		&rule.Version,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.StopLossPct = fromNull(slPct)
	rule.TakeProfitPct = fromNull(tpPct)

	return rule, nil
}
