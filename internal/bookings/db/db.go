package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"travel-booking/internal/database/migrations"
	"travel-booking/internal/logger"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrStoreUnavailable = errors.New("local store unavailable")
	ErrUnknownField     = errors.New("unknown booking field")
	ErrInvalidValue     = errors.New("invalid field value")
)

// DB is one handle on the local booking database. Several handles may be
// open on the same file at once; SQLite transactions keep them consistent.
type DB struct {
	Bun    *bun.DB
	logger *logger.Logger
}

type Options struct {
	Path        string
	BusyTimeout time.Duration
	Logger      *logger.Logger
	// SkipMigrations leaves the schema as found; see Migrations.
	SkipMigrations bool
}

// Open connects to the SQLite file at opts.Path and brings the schema up to
// date. ":memory:" is accepted for tests.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrStoreUnavailable)
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStoreUnavailable, opts.Path, err)
	}
	// A single connection per handle: SQLite serialises writers anyway and an
	// in-memory database only exists on the connection that created it.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStoreUnavailable, opts.Path, err)
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds())}
	if !strings.Contains(opts.Path, ":memory:") {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := sqldb.ExecContext(ctx, p); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, p, err)
		}
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	d := &DB{Bun: bunDB, logger: log}
	if !opts.SkipMigrations {
		if err := d.Migrations().MigrateUp(); err != nil {
			bunDB.Close()
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	log.LogDatabase("OPEN", opts.Path, "local store ready")
	return d, nil
}

// Migrations returns a runner over this handle's schema.
func (d *DB) Migrations() *migrations.Runner {
	return migrations.NewRunner(d.Bun, d.logger)
}

func (d *DB) Close() error {
	if d == nil || d.Bun == nil {
		return nil
	}
	return d.Bun.Close()
}
