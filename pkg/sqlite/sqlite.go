package sqlite

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

const (
	// DriverName is go-sqlite3 with LowerFunc registered on every connection.
	DriverName = "sqlite3_library"
	// LowerFunc lowercases its argument like strings.ToLower. The builtin lower() folds ASCII only.
	LowerFunc = "ulower"
)

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc(LowerFunc, strings.ToLower, true)
		},
	})
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

type DB struct {
	Path         string `envconfig:"SQLITE_PATH" default:"library.db"`
	MaxOpenConns int    `envconfig:"SQLITE_MAX_OPEN_CONNS" default:"4"`
}

// DSN enables WAL so readers never wait for the writer; writers queue on the busy timeout.
func (cfg *DB) DSN() string {
	return "file:" + cfg.Path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
}

// NewSQLiteDB opens the database file, creating it on first run, and applies migrations.
func NewSQLiteDB(ctx context.Context, cfg *DB, migrations fs.FS, dir string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, DriverName, cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "sqlx.ConnectContext")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	goose.SetBaseFS(migrations)
	if err = goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "goose.SetDialect")
	}
	if err = goose.Up(db.DB, dir); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "goose.Up")
	}
	return db, nil
}

func IsUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	return errors.As(err, &liteErr) &&
		(liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
