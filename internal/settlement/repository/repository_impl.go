package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/k95foods/payoutbridge/internal/settlement/domain"
)

const gatewayAccountName = "Cashfree"

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindLive(ctx context.Context, db *gorm.DB, referenceNo, party, company string) (*domain.PaymentEntry, error) {
	var entry domain.PaymentEntry
	err := db.WithContext(ctx).
		Where("reference_no = ? AND party = ? AND company = ? AND status <> ?",
			referenceNo, party, company, domain.EntryCancelled).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.PaymentEntry, refs []domain.PaymentEntryReference) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		for i := range refs {
			refs[i].PaymentEntryID = entry.ID
		}
		if len(refs) > 0 {
			if err := tx.Create(&refs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repo) Submit(ctx context.Context, db *gorm.DB, name string) error {
	return r.setStatus(ctx, db, name, domain.EntrySubmitted, "")
}

func (r *repo) Hold(ctx context.Context, db *gorm.DB, name, reason string) error {
	return r.setStatus(ctx, db, name, domain.EntryHeld, reason)
}

func (r *repo) setStatus(ctx context.Context, db *gorm.DB, name, status, finalizeErr string) error {
	res := db.WithContext(ctx).
		Model(&domain.PaymentEntry{}).
		Where("name = ?", name).
		Updates(map[string]any{
			"status":         status,
			"finalize_error": finalizeErr,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ResolveClearingAccount tries the conventional "<name> - <abbr>" account
// first, then any non-group Bank account carrying the gateway's
// account_name, then a pattern match as the last resort.
func (r *repo) ResolveClearingAccount(ctx context.Context, db *gorm.DB, company string) (string, error) {
	var co domain.Company
	err := db.WithContext(ctx).Where("name = ?", company).First(&co).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	var acc domain.Account
	if co.Abbr != "" {
		conventional := fmt.Sprintf("%s - %s", gatewayAccountName, co.Abbr)
		err = db.WithContext(ctx).
			Where("name = ? AND company = ? AND is_group = ?", conventional, company, false).
			First(&acc).Error
		if err == nil {
			return acc.Name, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", err
		}
	}

	err = db.WithContext(ctx).
		Where("account_name = ? AND company = ? AND account_type = ? AND is_group = ?",
			gatewayAccountName, company, "Bank", false).
		First(&acc).Error
	if err == nil {
		return acc.Name, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	err = db.WithContext(ctx).
		Where("name LIKE ? AND company = ? AND is_group = ?",
			"%"+gatewayAccountName+"%", company, false).
		Order("name").
		First(&acc).Error
	if err == nil {
		return acc.Name, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrAccountNotConfigured
	}
	return "", err
}

func (r *repo) ResolvePartyAccount(ctx context.Context, db *gorm.DB, partyType, party, company string) (string, error) {
	var pa domain.PartyAccount
	err := db.WithContext(ctx).
		Where("parent = ? AND parent_type = ? AND company = ?", party, partyType, company).
		First(&pa).Error
	if err == nil && pa.Account != "" {
		return pa.Account, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	var co domain.Company
	err = db.WithContext(ctx).Where("name = ?", company).First(&co).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && co.DefaultPayableAccount == "") {
		return "", domain.ErrAccountNotConfigured
	}
	if err != nil {
		return "", err
	}
	return co.DefaultPayableAccount, nil
}

func (r *repo) SupplierEmail(ctx context.Context, db *gorm.DB, name string) (string, error) {
	var s domain.Supplier
	err := db.WithContext(ctx).Where("name = ?", name).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.EmailID, nil
}
