package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/tracking.stimulator/internal/host"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

// Session is one recording interval.
type Session struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Pulses    int        `json:"pulses"`
}

// Pulse is one logged TTL edge.
type Pulse struct {
	ID           string `json:"id"`
	SessionID    string `json:"session_id"`
	SourceID     int    `json:"source_id,omitempty"`
	Region       int    `json:"region"`
	Channel      int    `json:"channel"`
	State        bool   `json:"state"`
	SampleNumber int64  `json:"sample_number"`
	// SoftwareTS is milliseconds since acquisition start.
	SoftwareTS int64 `json:"software_ts"`
}

// StartSession opens a session and returns its id. It satisfies
// host.SessionHooks together with StopSession.
func (db *DB) StartSession(ctx context.Context, kind string) (string, error) {
	id := uuid.NewString()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, kind, started_at) VALUES (?, ?, ?)`,
		id, kind, time.Now().UTC(),
	); err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	logf("session %s started (%s)", id, kind)
	return id, nil
}

// StopSession stamps the stop time. Stopping an unknown or already stopped
// session is an error.
func (db *DB) StopSession(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE sessions SET stopped_at = ? WHERE session_id = ? AND stopped_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stop session: no open session %s", id)
	}
	logf("session %s stopped", id)
	return nil
}

// Sessions lists sessions, most recent first.
func (db *DB) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.session_id, s.kind, s.started_at, s.stopped_at, COUNT(p.pulse_id)
		FROM sessions s LEFT JOIN pulses p ON p.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var stopped sql.NullTime
		if err := rows.Scan(&s.ID, &s.Kind, &s.StartedAt, &stopped, &s.Pulses); err != nil {
			return nil, err
		}
		if stopped.Valid {
			t := stopped.Time
			s.StoppedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordPulses logs the TTL edges of events against a session.
func (db *DB) RecordPulses(ctx context.Context, session string, sampleRate float64, events []tracking.Event) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pulses (pulse_id, session_id, source_id, region, channel, state, sample_number, software_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if e.Kind != tracking.EventTTL {
			continue
		}
		var source sql.NullInt64
		if e.SourceID > 0 {
			source = sql.NullInt64{Int64: int64(e.SourceID), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(), session, source, e.Region, e.Channel, e.State, e.SampleNumber,
			sampleMillis(e.SampleNumber, sampleRate),
		); err != nil {
			return fmt.Errorf("insert pulse: %w", err)
		}
	}
	return tx.Commit()
}

// Pulses returns the pulses of a session in sample order.
func (db *DB) Pulses(ctx context.Context, session string) ([]Pulse, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT pulse_id, session_id, source_id, region, channel, state, sample_number, software_ts
		FROM pulses WHERE session_id = ?
		ORDER BY sample_number, rowid`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Pulse
	for rows.Next() {
		var p Pulse
		var source sql.NullInt64
		if err := rows.Scan(&p.ID, &p.SessionID, &source, &p.Region, &p.Channel, &p.State, &p.SampleNumber, &p.SoftwareTS); err != nil {
			return nil, err
		}
		p.SourceID = int(source.Int64)
		out = append(out, p)
	}
	return out, rows.Err()
}

func sampleMillis(sample int64, rate float64) int64 {
	if rate <= 0 {
		return 0
	}
	return int64(float64(sample) * 1000 / rate)
}

// PulseLog is a host.EventSink that records TTL edges while a recording
// session is open.
type PulseLog struct {
	db *DB
}

func (db *DB) PulseLog() *PulseLog { return &PulseLog{db: db} }

func (l *PulseLog) HandleBatch(ctx context.Context, b host.Batch) error {
	if !b.Recording || b.Session == "" {
		return nil
	}
	ttl := b.TTLEvents()
	if len(ttl) == 0 {
		return nil
	}
	return l.db.RecordPulses(ctx, b.Session, b.SampleRate, ttl)
}
