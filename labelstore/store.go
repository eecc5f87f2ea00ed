// Package labelstore keeps sensor models, label spans and per-sensor clock
// offsets in a SQLite database. The pipeline only reads plain values from it.
package labelstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/lucasjlepore/sensor-labeler/config"
	"github.com/lucasjlepore/sensor-labeler/dataset"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("labelstore: not found")

// Store is a SQLite backed label store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. Call MigrateUp before use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open label store: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure label store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// MigrateUp applies all pending migrations. An up-to-date schema is not an
// error.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version. It is 0 before the first
// migration.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// SaveSensorModel validates m and stores it under m.Name, replacing any
// previous version.
func (s *Store) SaveSensorModel(ctx context.Context, m *config.SensorModel) error {
	if m.Name == "" {
		return errors.New("save sensor model: name is required")
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("save sensor model %q: %w", m.Name, err)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode sensor model %q: %w", m.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sensor_models (name, config_json) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET config_json = excluded.config_json, updated_at = CURRENT_TIMESTAMP`,
		m.Name, string(body))
	if err != nil {
		return fmt.Errorf("save sensor model %q: %w", m.Name, err)
	}
	return nil
}

// SensorModel loads the named model.
func (s *Store) SensorModel(ctx context.Context, name string) (*config.SensorModel, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT config_json FROM sensor_models WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sensor model %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load sensor model %q: %w", name, err)
	}
	m, err := config.DecodeJSON([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("load sensor model %q: %w", name, err)
	}
	return m, nil
}

// SensorModelNames lists stored model names in order.
func (s *Store) SensorModelNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sensor_models ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list sensor models: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AddLabel records a span in store time for a sensor and returns its id.
func (s *Store) AddLabel(ctx context.Context, sensorID string, span dataset.LabelSpan) (int64, error) {
	if span.Activity == dataset.Unlabeled {
		return 0, errors.New("add label: empty activity")
	}
	if span.End.Before(span.Start) {
		return 0, fmt.Errorf("add label %q: end before start", span.Activity)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO labels (sensor_id, start_ns, end_ns, activity) VALUES (?, ?, ?, ?)`,
		sensorID, span.Start.UnixNano(), span.End.UnixNano(), span.Activity)
	if err != nil {
		return 0, fmt.Errorf("add label %q: %w", span.Activity, err)
	}
	return res.LastInsertId()
}

// SetOffset stores the amount added to store time to obtain the sensor's
// clock.
func (s *Store) SetOffset(ctx context.Context, sensorID string, offset time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sensor_offsets (sensor_id, offset_ns) VALUES (?, ?)
		ON CONFLICT(sensor_id) DO UPDATE SET offset_ns = excluded.offset_ns`,
		sensorID, int64(offset))
	if err != nil {
		return fmt.Errorf("set offset for %q: %w", sensorID, err)
	}
	return nil
}

// Offset returns the sensor's clock offset, 0 when none is stored.
func (s *Store) Offset(ctx context.Context, sensorID string) (time.Duration, error) {
	var ns int64
	err := s.db.QueryRowContext(ctx, `SELECT offset_ns FROM sensor_offsets WHERE sensor_id = ?`, sensorID).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load offset for %q: %w", sensorID, err)
	}
	return time.Duration(ns), nil
}

// LabelSpans returns the sensor's spans that overlap [from, to) in sensor
// time, shifted by the sensor offset and ordered by start.
func (s *Store) LabelSpans(ctx context.Context, sensorID string, from, to time.Time) ([]dataset.LabelSpan, error) {
	offset, err := s.Offset(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_ns, end_ns, activity FROM labels
		WHERE sensor_id = ? AND end_ns > ? AND start_ns < ?
		ORDER BY start_ns, id`,
		sensorID, from.Add(-offset).UnixNano(), to.Add(-offset).UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query labels for %q: %w", sensorID, err)
	}
	defer rows.Close()

	var spans []dataset.LabelSpan
	for rows.Next() {
		var start, end int64
		var activity string
		if err := rows.Scan(&start, &end, &activity); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		spans = append(spans, dataset.LabelSpan{
			Start:    time.Unix(0, start).UTC().Add(offset),
			End:      time.Unix(0, end).UTC().Add(offset),
			Activity: activity,
		})
	}
	return spans, rows.Err()
}
