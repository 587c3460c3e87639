package db

import (
	"context"
	"fmt"
	"time"
)

// Performance event kinds.
const (
	EventAccelRun    = "accel_run"
	EventBraking     = "braking"
	EventQuarterMile = "quarter_mile"
)

// Event is one detected performance event. Which of the metric fields
// are meaningful depends on Kind; the rest stay zero.
type Event struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DurationS  float64   `json:"duration_s"`
	StartMPH   float64   `json:"start_mph"`
	EndMPH     float64   `json:"end_mph"`
	AvgG       float64   `json:"avg_g,omitempty"`
	PeakG      float64   `json:"peak_g,omitempty"`
	DistanceFt float64   `json:"distance_ft,omitempty"`
}

// PowerPoint is one RPM bucket of the estimated power curve.
type PowerPoint struct {
	SessionID  string  `json:"session_id"`
	RPM        int     `json:"rpm"`
	PowerHP    float64 `json:"power_hp"`
	TorqueLbFt float64 `json:"torque_lbft"`
	Samples    int     `json:"samples"`
}

// ReplaceEvents rewrites a session's performance events in one
// transaction, keeping re-analysis idempotent.
func (db *DB) ReplaceEvents(ctx context.Context, sessionID string, events []Event) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace events %s: %w", sessionID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM performance_events WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("replace events %s: %w", sessionID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO performance_events (session_id, kind, start_us, end_us, duration_s,
			start_mph, end_mph, avg_g, peak_g, distance_ft)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("replace events %s: %w", sessionID, err)
	}
	defer stmt.Close()

	for _, ev := range events {
		_, err := stmt.ExecContext(ctx, sessionID, ev.Kind,
			ev.Start.UnixMicro(), ev.End.UnixMicro(), ev.DurationS,
			ev.StartMPH, ev.EndMPH, ev.AvgG, ev.PeakG, ev.DistanceFt)
		if err != nil {
			return fmt.Errorf("replace events %s: %w", sessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace events %s: %w", sessionID, err)
	}
	return nil
}

// Events returns a session's performance events in start order.
func (db *DB) Events(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, session_id, kind, start_us, end_us, duration_s,
			start_mph, end_mph, avg_g, peak_g, distance_ft
		FROM performance_events WHERE session_id = ? ORDER BY start_us, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load events %s: %w", sessionID, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev      Event
			startUS int64
			endUS   int64
		)
		err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &startUS, &endUS, &ev.DurationS,
			&ev.StartMPH, &ev.EndMPH, &ev.AvgG, &ev.PeakG, &ev.DistanceFt)
		if err != nil {
			return nil, fmt.Errorf("load events %s: %w", sessionID, err)
		}
		ev.Start = time.UnixMicro(startUS).UTC()
		ev.End = time.UnixMicro(endUS).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load events %s: %w", sessionID, err)
	}

	return events, nil
}

// ReplacePowerCurve rewrites a session's power curve buckets.
func (db *DB) ReplacePowerCurve(ctx context.Context, sessionID string, points []PowerPoint) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace power curve %s: %w", sessionID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM power_curve WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("replace power curve %s: %w", sessionID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO power_curve (session_id, rpm, power_hp, torque_lbft, samples)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("replace power curve %s: %w", sessionID, err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, sessionID, p.RPM, p.PowerHP, p.TorqueLbFt, p.Samples); err != nil {
			return fmt.Errorf("replace power curve %s: %w", sessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace power curve %s: %w", sessionID, err)
	}
	return nil
}

// PowerCurve returns a session's power curve in RPM order.
func (db *DB) PowerCurve(ctx context.Context, sessionID string) ([]PowerPoint, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, rpm, power_hp, torque_lbft, samples
		FROM power_curve WHERE session_id = ? ORDER BY rpm`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load power curve %s: %w", sessionID, err)
	}
	defer rows.Close()

	var points []PowerPoint
	for rows.Next() {
		var p PowerPoint
		if err := rows.Scan(&p.SessionID, &p.RPM, &p.PowerHP, &p.TorqueLbFt, &p.Samples); err != nil {
			return nil, fmt.Errorf("load power curve %s: %w", sessionID, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load power curve %s: %w", sessionID, err)
	}

	return points, nil
}
