package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"riskengine/internal/models"
)

var ErrEventNotFound = errors.New("risk event not found")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const eventColumns = `id, account_id, figi, event_type, side, old_value, new_value,
	current_price, watermark, reason, details, created_at`

// EventRepository - append-only журнал событий риска (таблица risk_events).
// Записи после вставки не изменяются и не удаляются.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создает новый экземпляр репозитория
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append дописывает событие в журнал. Возвращает false, если последняя
// запись этой позиции уже описывает тот же переход (тип + новое значение):
// повторная оценка того же тика не плодит дубликатов. Проверка идет только
// по последней записи, без скана истории.
func (r *EventRepository) Append(event *models.RiskEvent) (bool, error) {
	details, err := marshalDetails(event.Details)
	if err != nil {
		return false, fmt.Errorf("failed to marshal event details: %w", err)
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO risk_events (account_id, figi, event_type, side, old_value, new_value,
			current_price, watermark, reason, details, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		WHERE NOT EXISTS (
			SELECT 1 FROM risk_events last
			WHERE last.account_id = $1 AND last.figi = $2
			  AND last.id = (
				SELECT MAX(id) FROM risk_events
				WHERE account_id = $1 AND figi = $2
			  )
			  AND last.event_type = $3
			  AND last.new_value IS NOT DISTINCT FROM $6
		)`

	result, err := r.db.Exec(
		query,
		event.AccountID,
		event.FIGI,
		event.EventType,
		event.Side,
		nullDec(event.OldValue),
		nullDec(event.NewValue),
		nullDec(event.CurrentPrice),
		nullDec(event.Watermark),
		event.Reason,
		details,
		event.CreatedAt,
	)
	if err != nil {
		return false, unavailable(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}

	return rowsAffected > 0, nil
}

// ByAccount возвращает события аккаунта, новые первыми
func (r *EventRepository) ByAccount(accountID string, limit int) ([]*models.RiskEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM risk_events
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT $2`

	return r.queryEvents(query, accountID, limit)
}

// ByPosition возвращает события позиции начиная с момента since, новые первыми
func (r *EventRepository) ByPosition(accountID, figi string, since time.Time, limit int) ([]*models.RiskEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM risk_events
		WHERE account_id = $1 AND figi = $2 AND created_at >= $3
		ORDER BY id DESC
		LIMIT $4`

	return r.queryEvents(query, accountID, figi, since, limit)
}

// Recent возвращает последние события по всем аккаунтам, новые первыми
func (r *EventRepository) Recent(limit int) ([]*models.RiskEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM risk_events
		ORDER BY id DESC
		LIMIT $1`

	return r.queryEvents(query, limit)
}

func (r *EventRepository) queryEvents(query string, args ...interface{}) ([]*models.RiskEvent, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var events []*models.RiskEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, unavailable(err)
	}

	return events, nil
}

func scanEvent(rows *sql.Rows) (*models.RiskEvent, error) {
	event := &models.RiskEvent{}
	var oldVal, newVal, price, watermark decimal.NullDecimal
	var details []byte

	err := rows.Scan(
		&event.ID,
		&event.AccountID,
		&event.FIGI,
		&event.EventType,
		&event.Side,
		&oldVal,
		&newVal,
		&price,
		&watermark,
		&event.Reason,
		&details,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.OldValue = fromNull(oldVal)
	event.NewValue = fromNull(newVal)
	event.CurrentPrice = fromNull(price)
	event.Watermark = fromNull(watermark)

	if len(details) > 0 {
		if err := json.Unmarshal(details, &event.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event details: %w", err)
		}
	}

	return event, nil
}

func marshalDetails(details map[string]string) ([]byte, error) {
	if len(details) == 0 {
		return nil, nil
	}
	return json.Marshal(details)
}
