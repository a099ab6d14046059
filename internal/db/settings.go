package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/tracking.stimulator/internal/tracking"
	"github.com/banshee-data/tracking.stimulator/internal/tracking/node"
)

// Settings is the persisted tracker configuration. Sources are stored in
// arena order; StimulationSource indexes into Sources, -1 for none.
type Settings struct {
	Sources            []node.SourceConfig    `json:"sources"`
	Regions            []tracking.Region      `json:"regions"`
	Trigger            tracking.TriggerConfig `json:"trigger"`
	StimulationEnabled bool                   `json:"stimulation_enabled"`
	StimulationSource  int                    `json:"stimulation_source"`
}

// SaveSettings replaces the stored configuration in one transaction.
func (db *DB) SaveSettings(ctx context.Context, s Settings) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sources`); err != nil {
		return fmt.Errorf("clear sources: %w", err)
	}
	for i, src := range s.Sources {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sources (position, name, port, address, color) VALUES (?, ?, ?, ?, ?)`,
			i, src.Name, src.Port, src.Address, src.Color,
		); err != nil {
			return fmt.Errorf("insert source %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM regions`); err != nil {
		return fmt.Errorf("clear regions: %w", err)
	}
	for i, r := range s.Regions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO regions (position, x, y, radius, enabled) VALUES (?, ?, ?, ?, ?)`,
			i, r.X, r.Y, r.Radius, r.Enabled,
		); err != nil {
			return fmt.Errorf("insert region %d: %w", i, err)
		}
	}

	t := s.Trigger
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stimulation_settings (
			id, enabled, mode, frequency_hz, sd_fraction, pulse_duration_ms, output_channel, source_position, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			enabled = excluded.enabled,
			mode = excluded.mode,
			frequency_hz = excluded.frequency_hz,
			sd_fraction = excluded.sd_fraction,
			pulse_duration_ms = excluded.pulse_duration_ms,
			output_channel = excluded.output_channel,
			source_position = excluded.source_position,
			updated_at = excluded.updated_at`,
		s.StimulationEnabled, t.Mode.String(), t.Frequency, t.SDFraction, t.PulseDurationMs, t.OutputChannel, s.StimulationSource,
	); err != nil {
		return fmt.Errorf("upsert stimulation settings: %w", err)
	}

	return tx.Commit()
}

// LoadSettings returns the stored configuration. ok is false when nothing
// has been saved yet.
func (db *DB) LoadSettings(ctx context.Context) (s Settings, ok bool, err error) {
	var mode string
	row := db.QueryRowContext(ctx, `
		SELECT enabled, mode, frequency_hz, sd_fraction, pulse_duration_ms, output_channel, source_position
		FROM stimulation_settings WHERE id = 1`)
	err = row.Scan(&s.StimulationEnabled, &mode, &s.Trigger.Frequency, &s.Trigger.SDFraction,
		&s.Trigger.PulseDurationMs, &s.Trigger.OutputChannel, &s.StimulationSource)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("load stimulation settings: %w", err)
	}
	if s.Trigger.Mode, err = tracking.ParseMode(mode); err != nil {
		return Settings{}, false, fmt.Errorf("stored stimulation mode: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT name, port, address, color FROM sources ORDER BY position`)
	if err != nil {
		return Settings{}, false, fmt.Errorf("load sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src node.SourceConfig
		if err := rows.Scan(&src.Name, &src.Port, &src.Address, &src.Color); err != nil {
			return Settings{}, false, err
		}
		s.Sources = append(s.Sources, src)
	}
	if err := rows.Err(); err != nil {
		return Settings{}, false, err
	}

	regions, err := db.QueryContext(ctx, `SELECT x, y, radius, enabled FROM regions ORDER BY position`)
	if err != nil {
		return Settings{}, false, fmt.Errorf("load regions: %w", err)
	}
	defer regions.Close()
	for regions.Next() {
		var r tracking.Region
		if err := regions.Scan(&r.X, &r.Y, &r.Radius, &r.Enabled); err != nil {
			return Settings{}, false, err
		}
		s.Regions = append(s.Regions, r)
	}
	if err := regions.Err(); err != nil {
		return Settings{}, false, err
	}

	if s.StimulationSource >= len(s.Sources) {
		s.StimulationSource = -1
	}
	return s, true, nil
}
