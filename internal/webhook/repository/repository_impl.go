package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/k95foods/payoutbridge/internal/webhook/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Record performs the atomic create-or-increment keyed by transfer id.
// The unique constraint on transfer_id makes concurrent redeliveries safe:
// exactly one insert wins, every other delivery lands in the DO UPDATE arm.
func (r *repo) Record(ctx context.Context, db *gorm.DB, entry *domain.WebhookLog) (*domain.WebhookLog, bool, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_logs (
			id, transfer_id, event_type, raw_payload, signature,
			webhook_timestamp, headers, status, retry_count, error_log,
			payment_request, payment_entry, processing_ms, received_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, '', '', '', 0, ?, ?)
		ON CONFLICT (transfer_id) DO UPDATE SET
			retry_count = webhook_logs.retry_count + 1,
			event_type = excluded.event_type,
			status = excluded.status,
			signature = excluded.signature,
			webhook_timestamp = excluded.webhook_timestamp,
			updated_at = excluded.updated_at`,
		entry.ID,
		entry.TransferID,
		entry.EventType,
		domain.Truncate(entry.RawPayload, domain.MaxPayloadBytes),
		domain.Truncate(entry.Signature, domain.MaxFieldBytes),
		domain.Truncate(entry.WebhookTimestamp, domain.MaxFieldBytes),
		entry.Headers,
		entry.Status,
		now,
		now,
	)
	if res.Error != nil {
		return nil, false, res.Error
	}

	stored, err := r.find(ctx, db, entry.TransferID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, gorm.ErrRecordNotFound
	}
	return stored, stored.ID == entry.ID, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	if id == 0 || len(fields) == 0 {
		return nil
	}

	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if s, ok := v.(string); ok {
			limit := domain.MaxFieldBytes
			if k == "raw_payload" || k == "headers" || k == "error_log" {
				limit = domain.MaxPayloadBytes
			}
			updates[k] = domain.Truncate(s, limit)
			continue
		}
		updates[k] = v
	}
	updates["updated_at"] = time.Now().UTC()

	return db.WithContext(ctx).
		Model(&domain.WebhookLog{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repo) find(ctx context.Context, db *gorm.DB, transferID string) (*domain.WebhookLog, error) {
	var item domain.WebhookLog
	err := db.WithContext(ctx).Raw(
		`SELECT id, transfer_id, event_type, raw_payload, signature,
			webhook_timestamp, headers, status, retry_count, error_log,
			payment_request, payment_entry, processing_ms, received_at, updated_at
		 FROM webhook_logs
		 WHERE transfer_id = ?
		 LIMIT 1`,
		transferID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
