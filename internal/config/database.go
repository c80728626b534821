package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"qtech-backend/internal/logging"
)

// OpenDB opens the MySQL pool. Timestamps are parsed into loc so that
// day boundaries line up with the business timezone.
func OpenDB(ctx context.Context, cfg DatabaseConfig, loc *time.Location) (*sql.DB, error) {
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DB_DSN: %w", err)
	}
	dsn.ParseTime = true
	dsn.Loc = loc
	if dsn.Params == nil {
		dsn.Params = map[string]string{}
	}
	if _, ok := dsn.Params["transaction_isolation"]; !ok {
		dsn.Params["transaction_isolation"] = "'READ-COMMITTED'"
	}

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}

	logging.Info().Str("addr", dsn.Addr).Str("db", dsn.DBName).Msg("mysql connected")
	return db, nil
}
