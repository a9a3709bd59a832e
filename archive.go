package main

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
	_ "modernc.org/sqlite"
)

type ArchiveConfig struct {
	Driver string
	URL    string
	Schema string
	Tag    string
}

// archive stores report runs in Postgres or, for local use, SQLite.
// SQLite has no schemas, so table names stay unqualified there.
type archive struct {
	db     *sql.DB
	driver string
	schema string
}

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func sanitizeSchema(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("db schema is required")
	}
	if !schemaPattern.MatchString(value) {
		return "", fmt.Errorf("invalid schema name: %s", value)
	}
	return value, nil
}

func openArchive(ctx context.Context, cfg ArchiveConfig) (*archive, error) {
	schema, err := sanitizeSchema(cfg.Schema)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("archive database URL missing; set ARCHIVE_DB_URL or DATABASE_URL")
	}

	db, err := sql.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &archive{db: db, driver: cfg.Driver, schema: schema}, nil
}

func (a *archive) Close() error {
	return a.db.Close()
}

func (a *archive) table(name string) string {
	if a.driver == "sqlite" {
		return name
	}
	return a.schema + "." + name
}

func (a *archive) ensureSchema(ctx context.Context) error {
	if a.driver != "sqlite" {
		if _, err := a.db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, a.schema)); err != nil {
			return err
		}
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id uuid PRIMARY KEY,
			as_of timestamptz NOT NULL,
			window_days integer NOT NULL,
			total_demo integer NOT NULL,
			active_demo integer NOT NULL,
			completed_demo integer NOT NULL,
			within_tat integer NOT NULL,
			exceeding_tat integer NOT NULL,
			active_real integer NOT NULL,
			rework_completed integer NOT NULL,
			tat_breach integer NOT NULL,
			anomalies integer NOT NULL,
			email_sent boolean NOT NULL,
			run_tag text,
			created_at timestamptz NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, a.table("report_runs")))
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id uuid PRIMARY KEY,
			run_id uuid NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			study_id bigint NOT NULL,
			client_id bigint NOT NULL,
			client_name text,
			is_demo boolean NOT NULL,
			final_status text NOT NULL,
			current_bucket text,
			modality text,
			tat_min numeric(12,2),
			tat_flag text NOT NULL,
			case_tag text,
			category_manager text,
			created_at timestamptz NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, a.table("report_cases"), a.table("report_runs")))
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_report_cases_run_idx ON %s (run_id)`, a.schema, a.table("report_cases")))
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_report_cases_study_idx ON %s (study_id)`, a.schema, a.table("report_cases")))
	return err
}

// storeRun writes one run row and one row per classified case in a
// single transaction and returns the run id.
func (a *archive) storeRun(ctx context.Context, report Report, sent bool, tag string) (runID string, err error) {
	id := uuid.New()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	s := report.Summary
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, as_of, window_days, total_demo, active_demo, completed_demo,
			within_tat, exceeding_tat, active_real, rework_completed, tat_breach,
			anomalies, email_sent, run_tag
		) VALUES (
			$1,$2,$3,$4,$5,$6,
			$7,$8,$9,$10,$11,
			$12,$13,$14
		)`, a.table("report_runs")),
		id,
		s.AsOf.UTC(),
		s.WindowDays,
		s.TotalDemo,
		s.ActiveDemo,
		s.CompletedDemo,
		s.WithinTAT,
		s.ExceedingTAT,
		s.ActiveReal,
		s.ReworkDemo,
		s.TATBreachDemo,
		s.AnomalyCount,
		sent,
		nullString(tag),
	)
	if err != nil {
		return "", err
	}

	insertCase := fmt.Sprintf(`
		INSERT INTO %s (
			id, run_id, study_id, client_id, client_name, is_demo,
			final_status, current_bucket, modality, tat_min, tat_flag,
			case_tag, category_manager
		) VALUES (
			$1,$2,$3,$4,$5,$6,
			$7,$8,$9,$10,$11,
			$12,$13
		)`, a.table("report_cases"))

	for _, group := range [][]ClassifiedCase{report.Demo, report.Real} {
		for _, c := range group {
			_, err = tx.ExecContext(ctx, insertCase,
				uuid.New(),
				id,
				c.StudyID,
				c.ClientID,
				nullString(c.ClientName),
				c.IsDemo,
				string(c.FinalStatus),
				nullString(string(c.Bucket)),
				nullString(c.Modality),
				nullFloat(c.TATBasis),
				string(c.TATFlag),
				nullString(c.Tag),
				nullString(c.CategoryManager),
			)
			if err != nil {
				return "", err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return id.String(), nil
}

// archiveRun opens the archive, makes sure the tables exist and stores
// the run.
func archiveRun(report Report, sent bool, cfg ArchiveConfig) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	store, err := openArchive(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer store.Close()

	if err := store.ensureSchema(ctx); err != nil {
		return "", err
	}
	return store.storeRun(ctx, report, sent, cfg.Tag)
}

// seedArchive creates the archive tables and stores the report only when
// no run has been archived yet. An empty run id means nothing was seeded.
func seedArchive(report Report, sent bool, cfg ArchiveConfig) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	store, err := openArchive(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer store.Close()

	if err := store.ensureSchema(ctx); err != nil {
		return "", err
	}

	count, err := store.runCount(ctx)
	if err != nil {
		return "", err
	}
	if count > 0 {
		return "", nil
	}
	return store.storeRun(ctx, report, sent, cfg.Tag)
}

func (a *archive) runCount(ctx context.Context) (int, error) {
	var count int
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, a.table("report_runs"))).Scan(&count)
	return count, err
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
