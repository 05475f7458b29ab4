package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/codealloy/alloy-api/internal/models"
)

type EventRepository interface {
	Create(ctx context.Context, params CreateEventParams) (models.JobEvent, error)
	ListByJob(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error)
}

type eventRepository struct {
	db *sql.DB
}

type CreateEventParams struct {
	JobID  string
	Type   models.JobEventType
	Detail map[string]interface{}
}

func NewEventRepository(db *sql.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Create(ctx context.Context, params CreateEventParams) (models.JobEvent, error) {
	const query = `
		INSERT INTO engine.job_events (job_id, type, detail)
		VALUES ($1, $2, $3)
		RETURNING id, job_id, type, detail, created_at
	`

	var detail interface{}
	if len(params.Detail) > 0 {
		bytes, err := json.Marshal(params.Detail)
		if err != nil {
			return models.JobEvent{}, fmt.Errorf("marshal event detail: %w", err)
		}
		detail = bytes
	}

	row := r.db.QueryRowContext(ctx, query, params.JobID, params.Type, detail)
	return scanEvent(row)
}

func (r *eventRepository) ListByJob(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	const query = `
		SELECT id, job_id, type, detail, created_at
		FROM engine.job_events
		WHERE job_id = $1
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func scanEvent(scanner interface {
	Scan(dest ...interface{}) error
}) (models.JobEvent, error) {
	var (
		event     models.JobEvent
		detailRaw []byte
	)

	if err := scanner.Scan(
		&event.ID,
		&event.JobID,
		&event.Type,
		&detailRaw,
		&event.CreatedAt,
	); err != nil {
		return models.JobEvent{}, err
	}

	if len(detailRaw) > 0 {
		event.Detail = detailRaw
	}

	return event, nil
}
