// Package repo implements the persistence layer. Chats and user accounts live
// in flat JSON files under the data directory; bookkeeping tables
// (idempotency records, upload metadata) are kept in SQLite through GORM.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
)

// slowQuery is where GORM starts warning about a statement.
const slowQuery = 200 * time.Millisecond

// pragmas run on every new database. busy_timeout matters because the
// janitor and request handlers write concurrently.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// gormLog forwards GORM's warnings into zerolog.
type gormLog struct{}

func (gormLog) Printf(format string, args ...any) {
	log.Warn().Str("component", "gorm").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// OpenSQLite opens (or creates) the bookkeeping database at path. A
// "file:" DSN or ":memory:" is passed through untouched; for a plain path
// the parent directory must already exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if isFilePath(path) {
		if _, err := os.Stat(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.New(gormLog{}, logger.Config{
			SlowThreshold:             slowQuery,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers anyway; a small pool keeps WAL readers busy.
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func isFilePath(dsn string) bool {
	return dsn != ":memory:" && !strings.HasPrefix(dsn, "file:")
}

// AutoMigrate creates the bookkeeping tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Idempotency{},
		&domain.UploadedFile{},
	)
}
