package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository persists payment entries and resolves the ledger accounts
// a draft needs.
type Repository interface {
	// FindLive returns the non-cancelled entry matching the bank
	// reference for the party and company, or nil when none exists.
	FindLive(ctx context.Context, db *gorm.DB, referenceNo, party, company string) (*PaymentEntry, error)

	// Insert stores a draft entry with its allocation lines in one
	// transaction.
	Insert(ctx context.Context, db *gorm.DB, entry *PaymentEntry, refs []PaymentEntryReference) error

	// Submit flips a draft to submitted.
	Submit(ctx context.Context, db *gorm.DB, name string) error

	// Hold parks a draft for manual review, recording why.
	Hold(ctx context.Context, db *gorm.DB, name, reason string) error

	// ResolveClearingAccount finds the gateway clearing account for the
	// company, trying the abbreviated name first and falling back to
	// account-name and pattern matches.
	ResolveClearingAccount(ctx context.Context, db *gorm.DB, company string) (string, error)

	// ResolvePartyAccount finds the party's payable account for the
	// company, falling back to the company default.
	ResolvePartyAccount(ctx context.Context, db *gorm.DB, partyType, party, company string) (string, error)

	// SupplierEmail returns the vendor's notification address, or ""
	// when the supplier has none on file.
	SupplierEmail(ctx context.Context, db *gorm.DB, name string) (string, error)
}

// Finalizer submits a drafted entry. Split from Repository so the
// writer's held-for-review path can be driven independently.
type Finalizer interface {
	Finalize(ctx context.Context, db *gorm.DB, name string) error
}
