// Package history persists an optional log of listening sessions and daily
// peak listener counts. Presence itself stays store-resident and ephemeral;
// this is analytics only, and the whole package is skipped when no database
// is configured.
package history

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRow is one listening session as shown in GET /admin/history.
type SessionRow struct {
	SessionID     string     `json:"session_id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	ListenSeconds int64      `json:"listen_seconds"`
}

// PeakRow is the peak concurrent listener count for one day.
type PeakRow struct {
	Day  time.Time `json:"day"`
	Peak int       `json:"peak"`
}

// Repository handles listener_sessions and listener_peaks.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a history repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogStart inserts a row when a session comes online.
func (r *Repository) LogStart(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO listener_sessions (session_id, started_at) VALUES ($1, NOW())`,
		sessionID)
	return err
}

// LogEnd closes the most recent open session row for this session id.
func (r *Repository) LogEnd(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE listener_sessions s SET ended_at = NOW(), listen_seconds = GREATEST(0, EXTRACT(EPOCH FROM (NOW() - s.started_at))::BIGINT)
		 FROM (SELECT id FROM listener_sessions WHERE session_id = $1 AND ended_at IS NULL ORDER BY started_at DESC LIMIT 1) AS sub
		 WHERE s.id = sub.id`,
		sessionID)
	return err
}

// RecordPeak raises today's peak listener count if the given count exceeds it.
func (r *Repository) RecordPeak(ctx context.Context, count int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO listener_peaks (day, peak) VALUES (CURRENT_DATE, $1)
		 ON CONFLICT (day) DO UPDATE SET peak = EXCLUDED.peak WHERE listener_peaks.peak < EXCLUDED.peak`,
		count)
	return err
}

// ListRecent returns the most recent listening sessions.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]SessionRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, started_at, ended_at, listen_seconds
		 FROM listener_sessions ORDER BY started_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []SessionRow
	for rows.Next() {
		var row SessionRow
		if err := rows.Scan(&row.SessionID, &row.StartedAt, &row.EndedAt, &row.ListenSeconds); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

// ListPeaks returns daily peaks for the last N days.
func (r *Repository) ListPeaks(ctx context.Context, days int) ([]PeakRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT day, peak FROM listener_peaks
		 WHERE day > CURRENT_DATE - $1::INT ORDER BY day DESC`,
		days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []PeakRow
	for rows.Next() {
		var row PeakRow
		if err := rows.Scan(&row.Day, &row.Peak); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}
