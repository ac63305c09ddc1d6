package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository resolves and mutates payment requests.
type Repository interface {
	// Resolve maps a gateway transfer id to a payment request, tolerating
	// naming-scheme drift between the two systems. Returns ErrNotFound
	// when no rule matches.
	Resolve(ctx context.Context, db *gorm.DB, transferID string) (*PaymentRequest, error)

	// RecordUTR stamps the bank transaction reference and success status
	// onto the request as soon as a success notification resolves to it.
	RecordUTR(ctx context.Context, db *gorm.DB, name, utr string) error

	// MarkReconciled records a finalized payout: status, UTR, and the
	// payout id cleared so a stale id cannot match again.
	MarkReconciled(ctx context.Context, db *gorm.DB, name, utr string) error

	// MarkFailed records a failed or reversed payout against the named
	// request, clearing the payout id so a later retry can be issued.
	// Callers resolve the transfer id first; an unknown name is ErrNotFound.
	MarkFailed(ctx context.Context, db *gorm.DB, name, status, reason string) error
}
