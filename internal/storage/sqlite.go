package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"destalinator/internal/model"
	"destalinator/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Journal backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrations.Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// RecordAction inserts an action and populates its ID and CreatedAt.
func (s *SQLite) RecordAction(ctx context.Context, a *model.Action) error {
	now := s.now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO actions (kind, channel, detail, dry_run, failed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(a.Kind), a.Channel, a.Detail, boolToInt(a.DryRun), boolToInt(a.Failed), now,
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	a.ID = id
	a.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListActions returns the most recent actions, newest first. A limit of
// zero or less returns everything.
func (s *SQLite) ListActions(ctx context.Context, limit int) ([]model.Action, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, channel, detail, dry_run, failed, created_at
		 FROM actions ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []model.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAction(row scannable) (model.Action, error) {
	var a model.Action
	var kind, created string
	var dryRun, failed int
	if err := row.Scan(&a.ID, &kind, &a.Channel, &a.Detail, &dryRun, &failed, &created); err != nil {
		return a, fmt.Errorf("scan action: %w", err)
	}
	a.Kind = model.ActionKind(kind)
	a.DryRun = dryRun == 1
	a.Failed = failed == 1
	a.CreatedAt, _ = time.Parse(timeLayout, created)
	return a, nil
}
