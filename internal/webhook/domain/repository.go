package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists webhook log entries. Record must be atomic with
// respect to concurrent deliveries of the same transfer id.
type Repository interface {
	// Record inserts a new log entry or, when the transfer id has been
	// seen before, increments its retry count in place. It returns the
	// stored row and whether it was freshly created.
	Record(ctx context.Context, db *gorm.DB, entry *WebhookLog) (*WebhookLog, bool, error)

	// Update applies the given fields to an existing entry. Unknown ids
	// are a no-op. String values are truncated to the storage caps.
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
}
