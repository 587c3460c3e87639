package db

import (
	"context"
	"fmt"
	"time"
)

// Lap is one stored lap. Start and End are the interpolated gate
// crossing instants, not sample timestamps.
type Lap struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Number      int       `json:"number"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	DurationS   float64   `json:"duration_s"`
	MaxSpeedMPH float64   `json:"max_speed_mph"`
	AvgSpeedMPH float64   `json:"avg_speed_mph"`
	MaxTotalG   float64   `json:"max_total_g"`
}

// ReplaceLaps rewrites a session's lap list in one transaction.
// Re-running lap detection over the same session is idempotent because
// the previous result is discarded wholesale.
func (db *DB) ReplaceLaps(ctx context.Context, sessionID string, laps []Lap) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace laps %s: %w", sessionID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM laps WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("replace laps %s: %w", sessionID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO laps (session_id, lap_number, start_us, end_us, duration_s,
			max_speed_mph, avg_speed_mph, max_total_g)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("replace laps %s: %w", sessionID, err)
	}
	defer stmt.Close()

	for _, lap := range laps {
		_, err := stmt.ExecContext(ctx, sessionID, lap.Number,
			lap.Start.UnixMicro(), lap.End.UnixMicro(), lap.DurationS,
			lap.MaxSpeedMPH, lap.AvgSpeedMPH, lap.MaxTotalG)
		if err != nil {
			return fmt.Errorf("replace laps %s: %w", sessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace laps %s: %w", sessionID, err)
	}
	return nil
}

// Laps returns a session's laps in lap order.
func (db *DB) Laps(ctx context.Context, sessionID string) ([]Lap, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, session_id, lap_number, start_us, end_us, duration_s,
			max_speed_mph, avg_speed_mph, max_total_g
		FROM laps WHERE session_id = ? ORDER BY lap_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load laps %s: %w", sessionID, err)
	}
	defer rows.Close()

	var laps []Lap
	for rows.Next() {
		var (
			lap     Lap
			startUS int64
			endUS   int64
		)
		err := rows.Scan(&lap.ID, &lap.SessionID, &lap.Number, &startUS, &endUS,
			&lap.DurationS, &lap.MaxSpeedMPH, &lap.AvgSpeedMPH, &lap.MaxTotalG)
		if err != nil {
			return nil, fmt.Errorf("load laps %s: %w", sessionID, err)
		}
		lap.Start = time.UnixMicro(startUS).UTC()
		lap.End = time.UnixMicro(endUS).UTC()
		laps = append(laps, lap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load laps %s: %w", sessionID, err)
	}

	return laps, nil
}
