package repository

import (
	"context"

	"github.com/saeid-a/CoachLedger/internal/models"
)

type WebhookLogRepository struct {
	db DBTX
}

func NewWebhookLogRepository(db DBTX) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

func (r *WebhookLogRepository) Create(ctx context.Context, entry *models.WebhookLog) error {
	query := `
		INSERT INTO webhook_logs (id, source, event_id, event_type, payload, outcome, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	return r.db.QueryRow(
		ctx,
		query,
		entry.ID,
		entry.Source,
		entry.EventID,
		entry.EventType,
		string(entry.Payload),
		entry.Outcome,
		entry.Error,
	).Scan(&entry.CreatedAt)
}

func (r *WebhookLogRepository) GetByID(ctx context.Context, id string) (*models.WebhookLog, error) {
	query := `
		SELECT id::text, source, event_id, event_type, payload::text, outcome, error, created_at
		FROM webhook_logs
		WHERE id = $1
	`
	var (
		entry   models.WebhookLog
		payload string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&entry.ID,
		&entry.Source,
		&entry.EventID,
		&entry.EventType,
		&payload,
		&entry.Outcome,
		&entry.Error,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Payload = []byte(payload)
	return &entry, nil
}
