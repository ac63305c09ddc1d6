package repository

import (
	"context"
	"strings"
	"time"

	"github.com/k95foods/payoutbridge/internal/paymentrequest/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Resolve applies the lookup rules in order, first non-empty match wins:
// exact name, underscore/dash-normalized name (both directions), then the
// stored payout id.
func (r *repo) Resolve(ctx context.Context, db *gorm.DB, transferID string) (*domain.PaymentRequest, error) {
	transferID = strings.TrimSpace(transferID)
	if transferID == "" {
		return nil, domain.ErrNotFound
	}

	candidates := []string{transferID}
	if dashed := strings.ReplaceAll(transferID, "_", "-"); dashed != transferID {
		candidates = append(candidates, dashed)
	}
	if underscored := strings.ReplaceAll(transferID, "-", "_"); underscored != transferID {
		candidates = append(candidates, underscored)
	}

	for _, name := range candidates {
		pr, err := r.findByName(ctx, db, name)
		if err != nil {
			return nil, err
		}
		if pr != nil {
			return pr, nil
		}
	}

	pr, err := r.findByPayoutID(ctx, db, transferID)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, domain.ErrNotFound
	}
	return pr, nil
}

func (r *repo) RecordUTR(ctx context.Context, db *gorm.DB, name, utr string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_requests
		 SET reconciliation_status = ?,
			 utr_number = ?,
			 failure_reason = '',
			 updated_at = ?
		 WHERE name = ?`,
		domain.ReconSuccess,
		utr,
		time.Now().UTC(),
		name,
	).Error
}

func (r *repo) MarkReconciled(ctx context.Context, db *gorm.DB, name, utr string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_requests
		 SET reconciliation_status = ?,
			 utr_number = ?,
			 failure_reason = '',
			 payout_id = '',
			 updated_at = ?
		 WHERE name = ?`,
		domain.ReconSuccess,
		utr,
		time.Now().UTC(),
		name,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, name, status, reason string) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_requests
		 SET reconciliation_status = ?,
			 failure_reason = ?,
			 payout_id = '',
			 updated_at = ?
		 WHERE name = ?`,
		status,
		reason,
		time.Now().UTC(),
		name,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) findByName(ctx context.Context, db *gorm.DB, name string) (*domain.PaymentRequest, error) {
	var item domain.PaymentRequest
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_requests WHERE name = ? LIMIT 1`, name,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.Name == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) findByPayoutID(ctx context.Context, db *gorm.DB, payoutID string) (*domain.PaymentRequest, error) {
	var item domain.PaymentRequest
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_requests WHERE payout_id = ? LIMIT 1`, payoutID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.Name == "" {
		return nil, nil
	}
	return &item, nil
}
