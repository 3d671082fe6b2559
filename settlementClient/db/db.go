// Package db keeps the node's local settlement ledger in SQLite through GORM.
package db

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/crowdfund/settlement-node/settlementClient/store"
)

const (
	memoryDSN = ":memory:"

	// file databases run in WAL mode and wait on a locked writer instead of failing
	filePragmas = "?_journal_mode=WAL&_busy_timeout=5000&cache=shared&mode=rwc"

	ledgerDirMode = 0o750
)

// ledgerModels are migrated on open.
var ledgerModels = []any{
	&store.SettlementRecord{},
	&store.DealRecord{},
}

// DB is the settlement ledger handle.
type DB struct {
	client *gorm.DB
}

// OpenFileDB opens the ledger file under dir, creating the directory when missing.
func OpenFileDB(dir, filename string, migrate bool) (*DB, error) {
	if err := os.MkdirAll(dir, ledgerDirMode); err != nil {
		return nil, errors.Wrapf(err, "failed to create ledger directory %s", dir)
	}
	return open(filepath.Join(dir, filename)+filePragmas, migrate)
}

// OpenInMemoryDB opens a ledger that lives as long as the handle. Tests use it.
func OpenInMemoryDB(migrate bool) (*DB, error) {
	return open(memoryDSN, migrate)
}

func open(dsn string, migrate bool) (*DB, error) {
	client, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open settlement ledger")
	}

	sqlDB, err := client.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}
	// one connection: WAL allows a single writer and an in-memory database is per connection
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	d := &DB{client: client}
	if migrate {
		if err := d.Migrate(); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return d, nil
}

// Migrate creates or updates the ledger tables.
func (d *DB) Migrate() error {
	return errors.Wrap(d.client.AutoMigrate(ledgerModels...), "failed to migrate settlement ledger")
}

// Client exposes the GORM handle for ad hoc queries.
func (d *DB) Client() *gorm.DB {
	return d.client
}

func (d *DB) Close() error {
	sqlDB, err := d.client.DB()
	if err != nil {
		return errors.Wrap(err, "failed to retrieve native sql.DB")
	}
	return errors.Wrap(sqlDB.Close(), "failed to close settlement ledger")
}
