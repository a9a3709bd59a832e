package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"
)

// CaseSource supplies the raw rows of one report run.
type CaseSource interface {
	DemoCases(ctx context.Context, asOf time.Time, windowDays int) ([]CaseRecord, error)
	RealCases(ctx context.Context, asOf time.Time, windowDays int) ([]CaseRecord, error)
	QCRoster(ctx context.Context) ([]int64, error)
}

// Both queries return the same columns; demo-only ones are typed NULLs
// in the real-case query.
const demoCasesQuery = `
WITH
ranked_studies AS (
    SELECT
        s.id AS study_id,
        row_number() OVER (PARTITION BY s.client_fk, sd.is_demo ORDER BY s.created_at) AS rank_within_type
    FROM Studies AS s
    INNER JOIN StudyDetails AS sd ON sd.study_fk = s.id
),
latest_status AS (
    SELECT
        study_fk,
        status,
        row_number() OVER (PARTITION BY study_fk ORDER BY created_at DESC) AS rn
    FROM StudyStatuses
),
first_completed AS (
    SELECT study_fk, min(created_at) AS first_completed_at
    FROM StudyStatuses
    WHERE status = 'COMPLETED'
    GROUP BY study_fk
),
reporting_radiologist AS (
    SELECT ss.study_fk, argMax(ss.by_user_fk, ss.created_at) AS rad_fk
    FROM StudyStatuses AS ss
    INNER JOIN first_completed AS fc ON fc.study_fk = ss.study_fk
    WHERE ss.status = 'REPORTED' AND ss.created_at <= fc.first_completed_at
    GROUP BY ss.study_fk
),
rework_reported AS (
    SELECT study_fk, min(created_at) AS reported_at
    FROM Reworks
    WHERE status = 'REPORTED'
    GROUP BY study_fk
),
preread_agent AS (
    SELECT study_fk, any(iqca_fk) AS iqca_fk
    FROM StudyIqcs
    WHERE status = 'REPORTABLE'
    GROUP BY study_fk
),
merged_parent AS (
    SELECT
        s.id AS study_id,
        s.parent_fk AS parent_fk,
        ps.status AS parent_status,
        ctm.tat_min AS parent_tat_min
    FROM Studies AS s
    LEFT JOIN Studies AS ps ON s.parent_fk = ps.id
    LEFT JOIN metrics.client_tat_metrics AS ctm ON ps.id = ctm.study_id
    WHERE s.status = 'MERGED'
)
SELECT
    toInt64(s.id),
    toInt64(s.client_fk),
    c.client_name,
    s.created_at,
    sd.created_at,
    toInt64(sd.is_demo),
    s.status,
    toInt64(mp.parent_fk),
    mp.parent_status,
    toFloat64(mp.parent_tat_min),
    toInt64(rr.rad_fk),
    ls.status,
    fc.first_completed_at,
    rw.reported_at,
    toInt64(pa.iqca_fk),
    s.rules,
    toFloat64(ctm.tat_min),
    cd.client_source,
    cg.assigned_to,
    pods.pod_name,
    toInt64(rs.rank_within_type)
FROM Studies AS s
INNER JOIN StudyDetails AS sd ON sd.study_fk = s.id
LEFT JOIN Clients AS c ON s.client_fk = c.id
LEFT JOIN metrics.client_tat_metrics AS ctm ON sd.study_fk = ctm.study_id
LEFT JOIN ClientDetails AS cd ON s.client_fk = cd.client_fk
LEFT JOIN metrics.client_group AS cg ON s.client_fk = cg.client_fk
LEFT JOIN market_analysis_tables.pods AS pods ON cg.pod_id = pods.id
LEFT JOIN ranked_studies AS rs ON sd.study_fk = rs.study_id
LEFT JOIN latest_status AS ls ON sd.study_fk = ls.study_fk AND ls.rn = 1
LEFT JOIN merged_parent AS mp ON s.id = mp.study_id
LEFT JOIN first_completed AS fc ON sd.study_fk = fc.study_fk
LEFT JOIN reporting_radiologist AS rr ON sd.study_fk = rr.study_fk
LEFT JOIN rework_reported AS rw ON sd.study_fk = rw.study_fk
LEFT JOIN preread_agent AS pa ON sd.study_fk = pa.study_fk
WHERE sd.is_demo = 1
  AND sd.created_at BETWEEN ? - toIntervalDay(?) AND ?
ORDER BY sd.created_at ASC
`

const realCasesQuery = `
WITH
ranked_studies AS (
    SELECT
        s.id AS study_id,
        row_number() OVER (PARTITION BY s.client_fk, sd.is_demo ORDER BY s.created_at) AS rank_within_type
    FROM Studies AS s
    INNER JOIN StudyDetails AS sd ON sd.study_fk = s.id
),
demo_clients AS (
    SELECT DISTINCT s.client_fk AS client_fk
    FROM Studies AS s
    INNER JOIN StudyDetails AS sd ON sd.study_fk = s.id
    WHERE sd.is_demo = 1
      AND sd.created_at BETWEEN ? - toIntervalDay(?) AND ?
)
SELECT
    toInt64(s.id),
    toInt64(s.client_fk),
    c.client_name,
    s.created_at,
    sd.created_at,
    toInt64(sd.is_demo),
    s.status,
    CAST(NULL AS Nullable(Int64)),
    CAST(NULL AS Nullable(String)),
    CAST(NULL AS Nullable(Float64)),
    CAST(NULL AS Nullable(Int64)),
    CAST(NULL AS Nullable(String)),
    CAST(NULL AS Nullable(DateTime)),
    CAST(NULL AS Nullable(DateTime)),
    CAST(NULL AS Nullable(Int64)),
    s.rules,
    toFloat64(ctm.tat_min),
    cd.client_source,
    cg.assigned_to,
    pods.pod_name,
    toInt64(rs.rank_within_type)
FROM Studies AS s
INNER JOIN StudyDetails AS sd ON sd.study_fk = s.id
LEFT JOIN Clients AS c ON s.client_fk = c.id
LEFT JOIN ranked_studies AS rs ON sd.study_fk = rs.study_id
LEFT JOIN metrics.client_tat_metrics AS ctm ON sd.study_fk = ctm.study_id
LEFT JOIN ClientDetails AS cd ON s.client_fk = cd.client_fk
LEFT JOIN metrics.client_group AS cg ON s.client_fk = cg.client_fk
LEFT JOIN market_analysis_tables.pods AS pods ON cg.pod_id = pods.id
WHERE sd.is_demo = 0
  AND s.created_at BETWEEN ? - toIntervalDay(?) AND ?
  AND s.client_fk IN (SELECT client_fk FROM demo_clients)
ORDER BY s.client_fk ASC, s.created_at ASC
`

const qcRosterQuery = `SELECT DISTINCT toInt64(qc_fk) FROM QcRoster WHERE qc_fk IS NOT NULL`

type ClickHouseSource struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewClickHouseSource(db *sql.DB, log zerolog.Logger) *ClickHouseSource {
	return &ClickHouseSource{db: db, log: log}
}

func openClickHouse(ctx context.Context, cfg Config) (*sql.DB, error) {
	opts := &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.ClickHouseHost, strconv.Itoa(cfg.ClickHousePort))},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		},
		Settings: clickhouse.Settings{
			"join_use_nulls": 1,
		},
		DialTimeout: 30 * time.Second,
		Protocol:    clickhouse.Native,
	}
	if strings.EqualFold(cfg.ClickHouseProtocol, "http") {
		opts.Protocol = clickhouse.HTTP
	}
	if cfg.ClickHouseSecure {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	db := clickhouse.OpenDB(opts)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: connect to clickhouse %s: %w", ErrQuery, opts.Addr[0], err)
	}
	return db, nil
}

func (s *ClickHouseSource) DemoCases(ctx context.Context, asOf time.Time, windowDays int) ([]CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, demoCasesQuery, asOf, windowDays, asOf)
	if err != nil {
		return nil, fmt.Errorf("%w: demo cases: %w", ErrQuery, err)
	}
	defer rows.Close()

	records, err := scanCases(rows, s.log)
	if err != nil {
		return nil, fmt.Errorf("%w: demo cases: %w", ErrQuery, err)
	}
	return records, nil
}

func (s *ClickHouseSource) RealCases(ctx context.Context, asOf time.Time, windowDays int) ([]CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, realCasesQuery, asOf, windowDays, asOf, asOf, windowDays, asOf)
	if err != nil {
		return nil, fmt.Errorf("%w: real cases: %w", ErrQuery, err)
	}
	defer rows.Close()

	records, err := scanCases(rows, s.log)
	if err != nil {
		return nil, fmt.Errorf("%w: real cases: %w", ErrQuery, err)
	}
	return records, nil
}

func (s *ClickHouseSource) QCRoster(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, qcRosterQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: qc roster: %w", ErrQuery, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: qc roster: %w", ErrQuery, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: qc roster: %w", ErrQuery, err)
	}
	return ids, nil
}

func scanCases(rows *sql.Rows, log zerolog.Logger) ([]CaseRecord, error) {
	var records []CaseRecord
	for rows.Next() {
		var (
			rec              CaseRecord
			clientName       sql.NullString
			activatedAt      sql.NullTime
			isDemo           sql.NullInt64
			parentID         sql.NullInt64
			parentStatus     sql.NullString
			parentTAT        sql.NullFloat64
			radiologistID    sql.NullInt64
			latestStatus     sql.NullString
			firstCompleted   sql.NullTime
			reworkReported   sql.NullTime
			iqcAgentID       sql.NullInt64
			rules            sql.NullString
			tat              sql.NullFloat64
			clientSource     sql.NullString
			assignedTo       sql.NullString
			podName          sql.NullString
			rankWithinClient sql.NullInt64
		)
		if err := rows.Scan(
			&rec.StudyID,
			&rec.ClientID,
			&clientName,
			&rec.CreatedAt,
			&activatedAt,
			&isDemo,
			&rec.Status,
			&parentID,
			&parentStatus,
			&parentTAT,
			&radiologistID,
			&latestStatus,
			&firstCompleted,
			&reworkReported,
			&iqcAgentID,
			&rules,
			&tat,
			&clientSource,
			&assignedTo,
			&podName,
			&rankWithinClient,
		); err != nil {
			return nil, fmt.Errorf("scan case row: %w", err)
		}

		rec.ClientName = clientName.String
		rec.ActivatedAt = activatedAt.Time
		rec.IsDemo = isDemo.Valid && isDemo.Int64 == 1
		rec.ParentID = nullInt64(parentID)
		rec.ParentStatus = parentStatus.String
		rec.ParentTATMinutes = nullFloat64(parentTAT)
		rec.RadiologistID = nullInt64(radiologistID)
		rec.LatestStatus = latestStatus.String
		rec.FirstCompletedAt = nullTime(firstCompleted)
		rec.ReworkReportedAt = nullTime(reworkReported)
		rec.IQCAgentID = nullInt64(iqcAgentID)
		rec.TATMinutes = nullFloat64(tat)
		rec.ClientSource = clientSource.String
		rec.AssignedTo = assignedTo.String
		rec.PodName = podName.String
		rec.Rank = int(rankWithinClient.Int64)

		modality, err := parseModality(rules.String)
		if err != nil {
			log.Warn().Int64("study_id", rec.StudyID).Err(err).Msg("unreadable modality")
		}
		rec.Modality = modality

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// parseModality returns the first token of the rules "list" entry as
// written. Thresholds match it case-sensitively.
func parseModality(rules string) (string, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(rules, `\`, ""))
	if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
		raw = raw[1 : len(raw)-1]
	}
	if raw == "" {
		return "", errors.New("empty rules")
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("parse rules: %w", err)
	}
	list, ok := doc["list"]
	if !ok {
		return "", errors.New("rules have no list entry")
	}
	token := firstToken(string(list))
	if token == "" {
		return "", errors.New("rules list has no token")
	}
	return token, nil
}

func firstToken(value string) string {
	start := -1
	for i := 0; i < len(value); i++ {
		ch := value[i]
		alnum := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
		switch {
		case alnum && start < 0:
			start = i
		case !alnum && start >= 0:
			return value[start:i]
		}
	}
	if start >= 0 {
		return value[start:]
	}
	return ""
}

func nullInt64(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	v := value.Int64
	return &v
}

func nullFloat64(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	v := value.Float64
	return &v
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid || value.Time.IsZero() {
		return nil
	}
	v := value.Time
	return &v
}
