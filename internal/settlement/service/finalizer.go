package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/k95foods/payoutbridge/internal/settlement/domain"
)

type finalizer struct {
	repo domain.Repository
}

// NewFinalizer submits drafts through the repository. It exists as a
// seam: the writer holds the draft whenever Finalize errors.
func NewFinalizer(repo domain.Repository) domain.Finalizer {
	return &finalizer{repo: repo}
}

func (f *finalizer) Finalize(ctx context.Context, db *gorm.DB, name string) error {
	if err := f.repo.Submit(ctx, db, name); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFinalizeFailed, err)
	}
	return nil
}
