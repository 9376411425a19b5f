// Package history records each report run and its sheets in Postgres.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
)

const (
	DefaultSchema = "admissions_report"
	storeTimeout  = 12 * time.Second
)

type Config struct {
	URL    string
	Schema string
}

// Enabled reports whether a database URL is configured.
func (c Config) Enabled() bool { return strings.TrimSpace(c.URL) != "" }

// SheetRecord is one worksheet of a run.
type SheetRecord struct {
	Name        string
	Kind        string
	ViewID      string
	ViewURLName string
	Rows        int
	Fingerprint uint64
	Error       string
}

// Run summarizes a single report run.
type Run struct {
	ID          uuid.UUID
	StartedAt   time.Time
	FinishedAt  time.Time
	Workbook    string
	OutputPath  string
	EmailStatus string
	Sheets      []SheetRecord
}

var validSchema = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SanitizeSchema validates a schema name before it is interpolated into SQL.
func SanitizeSchema(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("db schema is required")
	}
	if !validSchema.MatchString(value) {
		return "", fmt.Errorf("invalid schema name: %s", value)
	}
	return value, nil
}

// Store writes run and its sheets in one transaction, creating the schema
// and tables when missing.
func Store(ctx context.Context, cfg Config, run Run) error {
	schema, err := SanitizeSchema(cfg.Schema)
	if err != nil {
		return err
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return fmt.Errorf("open history db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	if err := ensureSchema(ctx, db, schema); err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	if err := storeRunTx(ctx, db, schema, run); err != nil {
		return fmt.Errorf("store run %s: %w", run.ID, err)
	}
	tl.Log(tl.Info1, palette.Green, "Recorded run %s (%d sheets) in %s", run.ID, len(run.Sheets), schema)
	return nil
}

func storeRunTx(ctx context.Context, db *sql.DB, schema string, run Run) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, insertRunSQL(schema),
		run.ID,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Workbook),
		nullString(run.OutputPath),
		nullString(run.EmailStatus),
		len(run.Sheets),
		failedCount(run.Sheets),
	); err != nil {
		return err
	}

	insertSheet := insertSheetSQL(schema)
	for i, s := range run.Sheets {
		if _, err = tx.ExecContext(ctx, insertSheet,
			uuid.New(),
			run.ID,
			i,
			s.Name,
			s.Kind,
			nullString(s.ViewID),
			nullString(s.ViewURLName),
			s.Rows,
			fmt.Sprintf("%016x", s.Fingerprint),
			nullString(s.Error),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func failedCount(sheets []SheetRecord) int {
	n := 0
	for _, s := range sheets {
		if s.Error != "" {
			n++
		}
	}
	return n
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func insertRunSQL(schema string) string {
	return fmt.Sprintf(`
		INSERT INTO %s.report_runs (
			id, started_at, finished_at, workbook, output_path,
			email_status, sheet_count, failed_sheets
		) VALUES (
			$1,$2,$3,$4,$5,
			$6,$7,$8
		)`, schema)
}

func insertSheetSQL(schema string) string {
	return fmt.Sprintf(`
		INSERT INTO %s.report_sheets (
			id, run_id, position, sheet_name, kind,
			view_id, view_url_name, row_count, fingerprint, error
		) VALUES (
			$1,$2,$3,$4,$5,
			$6,$7,$8,$9,$10
		)`, schema)
}

func schemaStatements(schema string) []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.report_runs (
			id uuid PRIMARY KEY,
			started_at timestamptz NOT NULL,
			finished_at timestamptz NOT NULL,
			workbook text,
			output_path text,
			email_status text,
			sheet_count integer NOT NULL,
			failed_sheets integer NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.report_sheets (
			id uuid PRIMARY KEY,
			run_id uuid NOT NULL REFERENCES %s.report_runs(id) ON DELETE CASCADE,
			position integer NOT NULL,
			sheet_name text NOT NULL,
			kind text NOT NULL,
			view_id text,
			view_url_name text,
			row_count integer NOT NULL,
			fingerprint text NOT NULL,
			error text
		)`, schema, schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_report_sheets_run_idx ON %s.report_sheets (run_id)`, schema, schema),
	}
}

func ensureSchema(ctx context.Context, db *sql.DB, schema string) error {
	for _, stmt := range schemaStatements(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
