package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/trackday/internal/telemetry"
)

// Sample row layout: the fixed columns below, then one column per
// channel in registry order. Both statements are derived from the
// registry so the Go side can never drift from the column set.
var sampleColumns = func() []string {
	cols := []string{"session_id", "ts_us", "elapsed_s",
		"obd_connected", "accel_connected", "gps_connected", "temp_connected"}
	return append(cols, telemetry.Names()...)
}()

var insertSampleSQL = fmt.Sprintf("INSERT INTO samples (%s) VALUES (%s)",
	strings.Join(sampleColumns, ", "),
	strings.TrimSuffix(strings.Repeat("?, ", len(sampleColumns)), ", "))

var selectSamplesSQL = fmt.Sprintf("SELECT %s FROM samples WHERE session_id = ? ORDER BY ts_us",
	strings.Join(sampleColumns[1:], ", "))

// AppendSamples writes one batch in a single transaction. The batch
// lands whole or not at all, so a failed flush can be retried without
// duplicating rows.
func (db *DB) AppendSamples(ctx context.Context, sessionID string, batch []telemetry.Sample) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append samples: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSampleSQL)
	if err != nil {
		return fmt.Errorf("append samples: %w", err)
	}
	defer stmt.Close()

	for _, s := range batch {
		if _, err := stmt.ExecContext(ctx, sampleArgs(sessionID, s)...); err != nil {
			return fmt.Errorf("append samples: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append samples: %w", err)
	}
	return nil
}

func sampleArgs(sessionID string, s telemetry.Sample) []any {
	args := make([]any, 0, len(sampleColumns))
	args = append(args, sessionID, s.At.UnixMicro(), s.Elapsed,
		s.Status[telemetry.SourceOBD], s.Status[telemetry.SourceAccel],
		s.Status[telemetry.SourceGPS], s.Status[telemetry.SourceTemp])
	for _, d := range telemetry.Schema {
		if c, ok := s.Chans[d.Name]; ok && c.Valid {
			args = append(args, c.Value)
		} else {
			args = append(args, nil)
		}
	}
	return args
}

// Samples returns a session's full sample sequence in produced order.
// Channels that were invalid at a tick come back with Valid false;
// channel age is not persisted and loads as zero.
func (db *DB) Samples(ctx context.Context, sessionID string) ([]telemetry.Sample, error) {
	rows, err := db.QueryContext(ctx, selectSamplesSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load samples %s: %w", sessionID, err)
	}
	defer rows.Close()

	var samples []telemetry.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("load samples %s: %w", sessionID, err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load samples %s: %w", sessionID, err)
	}

	return samples, nil
}

func scanSample(rows *sql.Rows) (telemetry.Sample, error) {
	var (
		tsUS      int64
		elapsed   float64
		obdConn   bool
		accelConn bool
		gpsConn   bool
		tempConn  bool
	)
	chans := make([]sql.NullFloat64, len(telemetry.Schema))

	dest := make([]any, 0, len(sampleColumns)-1)
	dest = append(dest, &tsUS, &elapsed, &obdConn, &accelConn, &gpsConn, &tempConn)
	for i := range chans {
		dest = append(dest, &chans[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return telemetry.Sample{}, err
	}

	s := telemetry.Sample{
		At:      time.UnixMicro(tsUS).UTC(),
		Elapsed: elapsed,
		Chans:   make(map[string]telemetry.Channel, len(telemetry.Schema)),
		Status: map[string]bool{
			telemetry.SourceOBD:   obdConn,
			telemetry.SourceAccel: accelConn,
			telemetry.SourceGPS:   gpsConn,
			telemetry.SourceTemp:  tempConn,
		},
	}
	for i, d := range telemetry.Schema {
		s.Chans[d.Name] = telemetry.Channel{
			Value: chans[i].Float64,
			Valid: chans[i].Valid,
		}
	}

	return s, nil
}

// SampleCount returns the number of stored samples for a session.
func (db *DB) SampleCount(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM samples WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count samples %s: %w", sessionID, err)
	}
	return n, nil
}
