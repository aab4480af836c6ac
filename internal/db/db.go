package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/agentdesk/agentdesk/internal/common/config"
	"github.com/agentdesk/agentdesk/internal/db/dialect"
)

// Open builds the reader/writer pool for the configured driver.
//
// SQLite gets a single-connection writer plus a read-only reader pool so WAL
// snapshots keep SELECTs off the write path. Postgres shares one pgx-backed
// pool for both sides.
func Open(cfg config.DatabaseConfig) (*Pool, error) {
	switch cfg.Driver {
	case "sqlite":
		writer, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		reader, err := OpenSQLiteReader(cfg.Path)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		return NewPool(sqlx.NewDb(writer, dialect.SQLite3), sqlx.NewDb(reader, dialect.SQLite3)), nil

	case "postgres":
		conn, err := OpenPostgres(cfg.DSN(), cfg.MaxConns, 0)
		if err != nil {
			return nil, err
		}
		pg := sqlx.NewDb(conn, dialect.PGX)
		return NewPool(pg, pg), nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
