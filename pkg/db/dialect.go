package db

import (
	"fmt"

	"github.com/k95foods/payoutbridge/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Dialect builds the gorm dialector for the configured database. The
// service runs on postgres; the embedded migrations and the partial
// unique indexes they create are written for it. Tests open sqlite
// databases directly.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	if cfg.DBType != "postgres" {
		return nil, fmt.Errorf("unsupported database type %q, only postgres is supported", cfg.DBType)
	}
	return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)), nil
}
