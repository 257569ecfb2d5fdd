package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/models"
)

// Ошибки репозитория состояний риска
var (
	ErrStateNotFound = errors.New("position risk state not found")
	// ErrStaleWatermark - попытка отодвинуть watermark назад; запись не изменена
	ErrStaleWatermark = errors.New("stale watermark: backward move rejected")
	// ErrRepositoryUnavailable - временный сбой хранилища; можно повторить
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)

const stateColumns = `account_id, figi, side, sl_pct, tp_pct, trailing_pct, trailing_abs,
	sl_level, tp_level, high_watermark, low_watermark, entry_price,
	avg_price_snapshot, qty_snapshot, trailing_type, min_step_ticks,
	pending_close, updated_at, source`

// StateRepository - работа с таблицей position_risk_states.
// Единственный владелец строк состояния: мутации идут только через Upsert.
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository создает новый экземпляр репозитория
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Get возвращает состояние риска позиции (account, figi)
func (r *StateRepository) Get(accountID, figi string) (*models.PositionRiskState, error) {
	query := `
		SELECT ` + stateColumns + `
		FROM position_risk_states
		WHERE account_id = $1 AND figi = $2`

	state, err := scanState(r.db.QueryRow(query, accountID, figi))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, unavailable(err)
	}

	return state, nil
}

// Upsert вставляет или обновляет состояние (last-writer-wins по полям),
// но никогда не позволяет отодвинуть watermark назад: такой вызов
// завершается ErrStaleWatermark, запись остается нетронутой.
func (r *StateRepository) Upsert(state *models.PositionRiskState) error {
	query := `
		INSERT INTO position_risk_states (` + stateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (account_id, figi) DO UPDATE SET
			side = EXCLUDED.side,
			sl_pct = EXCLUDED.sl_pct,
			tp_pct = EXCLUDED.tp_pct,
			trailing_pct = EXCLUDED.trailing_pct,
			trailing_abs = EXCLUDED.trailing_abs,
			sl_level = EXCLUDED.sl_level,
			tp_level = EXCLUDED.tp_level,
			high_watermark = EXCLUDED.high_watermark,
			low_watermark = EXCLUDED.low_watermark,
			entry_price = EXCLUDED.entry_price,
			avg_price_snapshot = EXCLUDED.avg_price_snapshot,
			qty_snapshot = EXCLUDED.qty_snapshot,
			trailing_type = EXCLUDED.trailing_type,
			min_step_ticks = EXCLUDED.min_step_ticks,
			pending_close = EXCLUDED.pending_close,
			updated_at = EXCLUDED.updated_at,
			source = EXCLUDED.source
		WHERE position_risk_states.high_watermark <= EXCLUDED.high_watermark
		  AND position_risk_states.low_watermark >= EXCLUDED.low_watermark`

	state.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		query,
		state.AccountID,
		state.FIGI,
		state.Side,
		nullDec(state.StopLossPct),
		nullDec(state.TakeProfitPct),
		nullDec(state.TrailingPct),
		nullDec(state.TrailingAbs),
		nullDec(state.StopLossLevel),
		nullDec(state.TakeProfitLevel),
		state.HighWatermark,
		state.LowWatermark,
		state.EntryPrice,
		state.AvgPriceSnapshot,
		state.QtySnapshot,
		state.TrailingType,
		state.MinStepTicks,
		state.PendingClose,
		state.UpdatedAt,
		state.Source,
	)
	if err != nil {
		return unavailable(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return unavailable(err)
	}

	// Guard в WHERE отбросил обновление: строка есть, но watermark двигался назад
	if rowsAffected == 0 {
		return ErrStaleWatermark
	}

	return nil
}

// StateFilter - фильтры для ListActive.
// WithStop/WithTake вычисляются по наличию уровня, не по отдельному флагу.
type StateFilter struct {
	AccountID string
	FIGI      string
	WithStop  bool
	WithTake  bool
}

// ListActive возвращает активные состояния с опциональными фильтрами
func (r *StateRepository) ListActive(filter StateFilter) ([]*models.PositionRiskState, error) {
	query := `
		SELECT ` + stateColumns + `
		FROM position_risk_states
		WHERE 1 = 1`

	var args []interface{}
	arg := 0

	if filter.AccountID != "" {
		arg++
		query += fmt.Sprintf(" AND account_id = $%d", arg)
		args = append(args, filter.AccountID)
	}
	if filter.FIGI != "" {
		arg++
		query += fmt.Sprintf(" AND figi = $%d", arg)
		args = append(args, filter.FIGI)
	}
	if filter.WithStop {
		query += " AND sl_level IS NOT NULL"
	}
	if filter.WithTake {
		query += " AND tp_level IS NOT NULL"
	}

	query += " ORDER BY updated_at DESC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var states []*models.PositionRiskState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		states = append(states, state)
	}

	if err = rows.Err(); err != nil {
		return nil, unavailable(err)
	}

	return states, nil
}

// Delete удаляет состояние закрытой позиции
func (r *StateRepository) Delete(accountID, figi string) error {
	query := `DELETE FROM position_risk_states WHERE account_id = $1 AND figi = $2`

	result, err := r.db.Exec(query, accountID, figi)
	if err != nil {
		return unavailable(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return unavailable(err)
	}

	if rowsAffected == 0 {
		return ErrStateNotFound
	}

	return nil
}

// MigrateRuleSourced обновляет проценты всех состояний, унаследованных от
// правил (source = RULE) и еще стоящих на старых дефолтах. Состояния с
// source = MANUAL не затрагиваются. Optimistic concurrency по updated_at:
// строки, измененные после чтения снапшота, пропускаются и считаются
// конфликтами. Весь батч идет в одной транзакции.
func (r *StateRepository) MigrateRuleSourced(figi string, oldSL, oldTP, newSL, newTP, newTrailing decimal.Decimal) (updated, conflicts int, err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, 0, unavailable(err)
	}
	defer tx.Rollback()

	query := `
		SELECT account_id, figi, updated_at
		FROM position_risk_states
		WHERE source = $1 AND sl_pct = $2 AND tp_pct = $3`
	args := []interface{}{models.SourceRule, oldSL, oldTP}
	if figi != "" {
		query += " AND figi = $4"
		args = append(args, figi)
	}

	rows, err := tx.Query(query, args...)
	if err != nil {
		return 0, 0, unavailable(err)
	}

	type snapshot struct {
		accountID string
		figi      string
		updatedAt time.Time
	}
	var snapshots []snapshot
	for rows.Next() {
		var s snapshot
		if err := rows.Scan(&s.accountID, &s.figi, &s.updatedAt); err != nil {
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
		UPDATE position_risk_states
		SET sl_pct = $1, tp_pct = $2, trailing_pct = $3, updated_at = $4
		WHERE account_id = $5 AND figi = $6 AND updated_at = $7`

	now := time.Now()
	for _, s := range snapshots {
		result, err := tx.Exec(update, newSL, newTP, newTrailing, now, s.accountID, s.figi, s.updatedAt)
		if err != nil {
			return 0, 0, unavailable(err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, 0, unavailable(err)
		}
		if n == 0 {
			// Строка изменилась между чтением и записью - пропускаем
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

// scanner абстрагирует *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanState читает одну строку состояния
func scanState(row scanner) (*models.PositionRiskState, error) {
	state := &models.PositionRiskState{}
	var slPct, tpPct, trailPct, trailAbs, slLevel, tpLevel decimal.NullDecimal

	err := row.Scan(
		&state.AccountID,
		&state.FIGI,
		&state.Side,
		&slPct,
		&tpPct,
		&trailPct,
		&trailAbs,
		&slLevel,
		&tpLevel,
		&state.HighWatermark,
		&state.LowWatermark,
		&state.EntryPrice,
		&state.AvgPriceSnapshot,
		&state.QtySnapshot,
		&state.TrailingType,
		&state.MinStepTicks,
		&state.PendingClose,
		&state.UpdatedAt,
		&state.Source,
	)
	if err != nil {
		return nil, err
	}

	state.StopLossPct = fromNull(slPct)
	state.TakeProfitPct = fromNull(tpPct)
	state.TrailingPct = fromNull(trailPct)
	state.TrailingAbs = fromNull(trailAbs)
	state.StopLossLevel = fromNull(slLevel)
	state.TakeProfitLevel = fromNull(tpLevel)

	return state, nil
}

// nullDec конвертирует *decimal.Decimal в аргумент запроса (NULL для nil)
func nullDec(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// fromNull конвертирует NullDecimal обратно в указатель
func fromNull(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

// unavailable помечает сбой драйвера как временный для retry в диспетчере
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
}
