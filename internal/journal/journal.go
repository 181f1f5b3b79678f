// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package journal keeps a local sqlite record of every intake submission.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/ffutop/scanintake/internal/intake"
	"github.com/ffutop/scanintake/payload"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Status of a journaled submission.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Entry is one journaled submission.
type Entry struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Category   string         `json:"category"`
	Count      int            `json:"count"`
	Source     payload.Source `json:"source"`
	Status     Status         `json:"status"`
	Bin        string         `json:"bin,omitempty"`
	TotalStock int            `json:"total_stock,omitempty"`
	Upserted   bool           `json:"upserted"`
	Error      string         `json:"error,omitempty"`
	ScannedAt  time.Time      `json:"scanned_at"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Journal is a sqlite-backed intake log.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the journal at path and migrates it to
// the latest schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure journal: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, now: time.Now}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load journal migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// m is not closed: that would close db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("journal migration failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...), "component", "journal")
}

func (migrateLogger) Verbose() bool { return false }

// Record stores the outcome of submitting rec. Exactly one of res and
// submitErr is meaningful.
func (j *Journal) Record(ctx context.Context, rec intake.Record, res intake.Result, submitErr error) error {
	e := Entry{
		ID:        rec.ID,
		Name:      rec.Name,
		Category:  rec.Category,
		Count:     rec.Count,
		Source:    rec.Source,
		Status:    StatusOK,
		ScannedAt: rec.ScannedAt,
		CreatedAt: j.now().UTC(),
	}
	if e.ScannedAt.IsZero() {
		e.ScannedAt = e.CreatedAt
	}
	if submitErr != nil {
		e.Status = StatusFailed
		e.Error = intake.UserMessage(submitErr)
	} else {
		e.Bin = string(res.Bin)
		e.TotalStock = res.TotalStock
		e.Upserted = res.Upserted
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO intakes
			(id, name, category, count, source, status, bin, total_stock, upserted, error, scanned_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Category, e.Count, string(e.Source), string(e.Status),
		e.Bin, e.TotalStock, e.Upserted, e.Error, e.ScannedAt.UTC(), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record intake %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, name, category, count, source, status, bin, total_stock, upserted, error, scanned_at, created_at
		FROM intakes
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query intakes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var source, status string
		if err := rows.Scan(&e.ID, &e.Name, &e.Category, &e.Count, &source, &status,
			&e.Bin, &e.TotalStock, &e.Upserted, &e.Error, &e.ScannedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan intake: %w", err)
		}
		e.Source = payload.Source(source)
		e.Status = Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
