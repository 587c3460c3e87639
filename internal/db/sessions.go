package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/trackday/internal/config"
	"github.com/banshee-data/trackday/internal/recorder"
)

// Session is one recorded stint together with its closing counters.
// EndedAt is the zero time while the session is still recording.
type Session struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	StartedAt     time.Time              `json:"started_at"`
	EndedAt       time.Time              `json:"ended_at,omitzero"`
	Vehicle       config.VehicleSnapshot `json:"vehicle"`
	Samples       uint64                 `json:"samples"`
	Flushed       uint64                 `json:"flushed"`
	Lost          uint64                 `json:"lost"`
	Degraded      bool                   `json:"degraded"`
	ChannelErrors map[string]uint64      `json:"channel_errors,omitempty"`
}

// Closed reports whether the session has been closed out.
func (s Session) Closed() bool { return !s.EndedAt.IsZero() }

// Duration returns the recorded length of a closed session, zero for a
// session still in progress.
func (s Session) Duration() time.Duration {
	if !s.Closed() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// CreateSession inserts the session row at open time. Counters stay at
// their zero defaults until CloseSession fills them in.
func (db *DB) CreateSession(ctx context.Context, meta recorder.SessionMeta) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, started_at_us, vehicle_name, vehicle_mass_kg,
			drag_coefficient, frontal_area_m2, rolling_resistance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.Name, meta.StartedAt.UnixMicro(),
		meta.Vehicle.Name, meta.Vehicle.MassKg,
		meta.Vehicle.DragCoefficient, meta.Vehicle.FrontalAreaM2, meta.Vehicle.RollingResistance)
	if err != nil {
		return fmt.Errorf("create session %s: %w", meta.ID, err)
	}
	return nil
}

// CloseSession records the closing summary on the session row.
func (db *DB) CloseSession(ctx context.Context, summary recorder.Summary) error {
	chanErrs := []byte("{}")
	if len(summary.ChannelErrors) > 0 {
		var err error
		chanErrs, err = json.Marshal(summary.ChannelErrors)
		if err != nil {
			return fmt.Errorf("close session %s: %w", summary.SessionID, err)
		}
	}

	res, err := db.ExecContext(ctx, `
		UPDATE sessions
		SET ended_at_us = ?, duration_s = ?, samples = ?, flushed = ?, lost = ?,
			degraded = ?, channel_errors = ?
		WHERE id = ?`,
		summary.EndedAt.UnixMicro(), summary.Duration.Seconds(),
		summary.Samples, summary.Flushed, summary.Lost,
		summary.Degraded, string(chanErrs), summary.SessionID)
	if err != nil {
		return fmt.Errorf("close session %s: %w", summary.SessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("close session %s: %w", summary.SessionID, ErrNotFound)
	}
	return nil
}

const sessionColumns = `id, name, started_at_us, ended_at_us, vehicle_name, vehicle_mass_kg,
	drag_coefficient, frontal_area_m2, rolling_resistance,
	samples, flushed, lost, degraded, channel_errors`

// Session returns one session by ID.
func (db *DB) Session(ctx context.Context, id string) (*Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return s, nil
}

// LatestSession returns the most recently started session.
func (db *DB) LatestSession(ctx context.Context) (*Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		ORDER BY started_at_us DESC LIMIT 1`)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest session: %w", err)
	}
	return s, nil
}

// Sessions returns all sessions, newest first.
func (db *DB) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		ORDER BY started_at_us DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	return sessions, nil
}

// DeleteSession removes a session and, through the schema's cascades,
// its samples, laps and performance results.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete session %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s         Session
		startedUS int64
		endedUS   sql.NullInt64
		chanErrs  string
	)
	err := row.Scan(&s.ID, &s.Name, &startedUS, &endedUS,
		&s.Vehicle.Name, &s.Vehicle.MassKg,
		&s.Vehicle.DragCoefficient, &s.Vehicle.FrontalAreaM2, &s.Vehicle.RollingResistance,
		&s.Samples, &s.Flushed, &s.Lost, &s.Degraded, &chanErrs)
	if err != nil {
		return nil, err
	}

	s.StartedAt = time.UnixMicro(startedUS).UTC()
	if endedUS.Valid {
		s.EndedAt = time.UnixMicro(endedUS.Int64).UTC()
	}
	if chanErrs != "" && chanErrs != "{}" {
		if err := json.Unmarshal([]byte(chanErrs), &s.ChannelErrors); err != nil {
			return nil, fmt.Errorf("channel_errors: %w", err)
		}
	}

	return &s, nil
}
