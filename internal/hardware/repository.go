package hardware

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// timeLayout keeps stored timestamps fixed-width so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Repository persists definitions and readings.
type Repository interface {
	ListSensors(ctx context.Context) ([]Sensor, error)
	GetSensor(ctx context.Context, id int64) (*Sensor, error)
	CreateSensor(ctx context.Context, s *Sensor) error
	UpdateSensor(ctx context.Context, s *Sensor) error
	// DeleteSensor also removes the sensor's readings and rules.
	DeleteSensor(ctx context.Context, id int64) error

	ListActors(ctx context.Context) ([]Actor, error)
	GetActor(ctx context.Context, id int64) (*Actor, error)
	CreateActor(ctx context.Context, a *Actor) error
	UpdateActor(ctx context.Context, a *Actor) error
	DeleteActor(ctx context.Context, id int64) error

	ListRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, id int64) (*Rule, error)
	// CreateRule returns ErrRuleExists if the name is taken.
	CreateRule(ctx context.Context, r *Rule) error
	UpdateRule(ctx context.Context, r *Rule) error
	DeleteRule(ctx context.Context, id int64) error

	RecordReading(ctx context.Context, r Reading) error
	// ReadingsSince returns readings at or after since, oldest first.
	ReadingsSince(ctx context.Context, sensorID int64, since time.Time) ([]Reading, error)
	// LastReading returns ErrNoReadings if the sensor has none.
	LastReading(ctx context.Context, sensorID int64) (*Reading, error)
	// PruneReadings deletes readings older than before and reports how many.
	PruneReadings(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository implements Repository on the schema in migrations/.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const sensorColumns = `id, name, description, channel, pin, interval_sec, created_at, updated_at`

func scanSensor(row rowScanner) (*Sensor, error) {
	var s Sensor
	var created, updated string
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &s.Channel, &s.Pin, &s.IntervalSec, &created, &updated); err != nil {
		return nil, err
	}
	s.CreatedAt = parseTime(created)
	s.UpdatedAt = parseTime(updated)
	return &s, nil
}

// ListSensors returns all sensors ordered by id.
func (r *SQLiteRepository) ListSensors(ctx context.Context) ([]Sensor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sensorColumns+` FROM sensors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying sensors: %w", err)
	}
	defer rows.Close()

	var sensors []Sensor
	for rows.Next() {
		s, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sensor: %w", err)
		}
		sensors = append(sensors, *s)
	}
	return sensors, rows.Err()
}

// GetSensor returns ErrSensorNotFound for an unknown id.
func (r *SQLiteRepository) GetSensor(ctx context.Context, id int64) (*Sensor, error) {
	s, err := scanSensor(r.db.QueryRowContext(ctx, `SELECT `+sensorColumns+` FROM sensors WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSensorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying sensor: %w", err)
	}
	return s, nil
}

// CreateSensor inserts s and sets its ID and timestamps.
func (r *SQLiteRepository) CreateSensor(ctx context.Context, s *Sensor) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sensors (name, description, channel, pin, interval_sec, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Name, s.Description, s.Channel, s.Pin, s.IntervalSec, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("inserting sensor: %w", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading sensor id: %w", err)
	}
	s.CreatedAt, s.UpdatedAt = now.Truncate(time.Millisecond), now.Truncate(time.Millisecond)
	return nil
}

// UpdateSensor replaces every editable field of s.
func (r *SQLiteRepository) UpdateSensor(ctx context.Context, s *Sensor) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE sensors SET name = ?, description = ?, channel = ?, pin = ?, interval_sec = ?, updated_at = ?
		WHERE id = ?`,
		s.Name, s.Description, s.Channel, s.Pin, s.IntervalSec, formatTime(now), s.ID)
	if err != nil {
		return fmt.Errorf("updating sensor: %w", err)
	}
	if err := expectOneRow(res, ErrSensorNotFound); err != nil {
		return err
	}
	s.UpdatedAt = now.Truncate(time.Millisecond)
	return nil
}

// DeleteSensor removes the sensor; readings and rules cascade.
func (r *SQLiteRepository) DeleteSensor(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sensors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting sensor: %w", err)
	}
	return expectOneRow(res, ErrSensorNotFound)
}

const actorColumns = `id, name, description, channel, pin, interval_sec, value, duration_sec, created_at, updated_at`

func scanActor(row rowScanner) (*Actor, error) {
	var a Actor
	var created, updated string
	if err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Channel, &a.Pin, &a.IntervalSec,
		&a.Value, &a.DurationSec, &created, &updated); err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}

// ListActors returns all actors ordered by id.
func (r *SQLiteRepository) ListActors(ctx context.Context) ([]Actor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+actorColumns+` FROM actors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying actors: %w", err)
	}
	defer rows.Close()

	var actors []Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning actor: %w", err)
		}
		actors = append(actors, *a)
	}
	return actors, rows.Err()
}

// GetActor returns ErrActorNotFound for an unknown id.
func (r *SQLiteRepository) GetActor(ctx context.Context, id int64) (*Actor, error) {
	a, err := scanActor(r.db.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying actor: %w", err)
	}
	return a, nil
}

// CreateActor inserts a and sets its ID and timestamps.
func (r *SQLiteRepository) CreateActor(ctx context.Context, a *Actor) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO actors (name, description, channel, pin, interval_sec, value, duration_sec, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.Description, a.Channel, a.Pin, a.IntervalSec, a.Value, a.DurationSec,
		formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("inserting actor: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading actor id: %w", err)
	}
	a.CreatedAt, a.UpdatedAt = now.Truncate(time.Millisecond), now.Truncate(time.Millisecond)
	return nil
}

// UpdateActor replaces every editable field of a.
func (r *SQLiteRepository) UpdateActor(ctx context.Context, a *Actor) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE actors SET name = ?, description = ?, channel = ?, pin = ?, interval_sec = ?,
			value = ?, duration_sec = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, a.Description, a.Channel, a.Pin, a.IntervalSec, a.Value, a.DurationSec, formatTime(now), a.ID)
	if err != nil {
		return fmt.Errorf("updating actor: %w", err)
	}
	if err := expectOneRow(res, ErrActorNotFound); err != nil {
		return err
	}
	a.UpdatedAt = now.Truncate(time.Millisecond)
	return nil
}

// DeleteActor removes the actor. Rules pointing at it are kept and are
// skipped during evaluation.
func (r *SQLiteRepository) DeleteActor(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM actors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting actor: %w", err)
	}
	return expectOneRow(res, ErrActorNotFound)
}

const ruleColumns = `id, name, sensor_id, threshold, comparison, actor_id, actor_value, created_at, updated_at`

func scanRule(row rowScanner) (*Rule, error) {
	var rl Rule
	var comparison, created, updated string
	if err := row.Scan(&rl.ID, &rl.Name, &rl.SensorID, &rl.Threshold, &comparison,
		&rl.ActorID, &rl.ActorValue, &created, &updated); err != nil {
		return nil, err
	}
	rl.Comparison = Comparison(comparison)
	rl.CreatedAt = parseTime(created)
	rl.UpdatedAt = parseTime(updated)
	return &rl, nil
}

// ListRules returns all rules ordered by id.
func (r *SQLiteRepository) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rl, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		rules = append(rules, *rl)
	}
	return rules, rows.Err()
}

// GetRule returns ErrRuleNotFound for an unknown id.
func (r *SQLiteRepository) GetRule(ctx context.Context, id int64) (*Rule, error) {
	rl, err := scanRule(r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying rule: %w", err)
	}
	return rl, nil
}

// CreateRule inserts rl and sets its ID and timestamps.
func (r *SQLiteRepository) CreateRule(ctx context.Context, rl *Rule) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO rules (name, sensor_id, threshold, comparison, actor_id, actor_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rl.Name, rl.SensorID, rl.Threshold, string(rl.Comparison), rl.ActorID, rl.ActorValue,
		formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("inserting rule: %w", err)
	}
	if rl.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading rule id: %w", err)
	}
	rl.CreatedAt, rl.UpdatedAt = now.Truncate(time.Millisecond), now.Truncate(time.Millisecond)
	return nil
}

// UpdateRule replaces the whole rule.
func (r *SQLiteRepository) UpdateRule(ctx context.Context, rl *Rule) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE rules SET name = ?, sensor_id = ?, threshold = ?, comparison = ?, actor_id = ?,
			actor_value = ?, updated_at = ?
		WHERE id = ?`,
		rl.Name, rl.SensorID, rl.Threshold, string(rl.Comparison), rl.ActorID, rl.ActorValue,
		formatTime(now), rl.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("updating rule: %w", err)
	}
	if err := expectOneRow(res, ErrRuleNotFound); err != nil {
		return err
	}
	rl.UpdatedAt = now.Truncate(time.Millisecond)
	return nil
}

// DeleteRule removes a rule.
func (r *SQLiteRepository) DeleteRule(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	return expectOneRow(res, ErrRuleNotFound)
}

// RecordReading appends a reading. NaN is stored as NULL.
func (r *SQLiteRepository) RecordReading(ctx context.Context, rd Reading) error {
	var value sql.NullFloat64
	if !rd.NoData() {
		value = sql.NullFloat64{Float64: rd.Value, Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO readings (sensor_id, timestamp, value) VALUES (?, ?, ?)`,
		rd.SensorID, formatTime(rd.Timestamp), value)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

func scanReading(row rowScanner) (*Reading, error) {
	var rd Reading
	var ts string
	var value sql.NullFloat64
	if err := row.Scan(&rd.SensorID, &ts, &value); err != nil {
		return nil, err
	}
	rd.Timestamp = parseTime(ts)
	rd.Value = math.NaN()
	if value.Valid {
		rd.Value = value.Float64
	}
	return &rd, nil
}

// ReadingsSince returns the sensor's readings from since onwards, oldest first.
func (r *SQLiteRepository) ReadingsSince(ctx context.Context, sensorID int64, since time.Time) ([]Reading, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sensor_id, timestamp, value FROM readings
		WHERE sensor_id = ? AND timestamp >= ?
		ORDER BY timestamp, id`,
		sensorID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		readings = append(readings, *rd)
	}
	return readings, rows.Err()
}

// LastReading returns the newest reading of a sensor.
func (r *SQLiteRepository) LastReading(ctx context.Context, sensorID int64) (*Reading, error) {
	rd, err := scanReading(r.db.QueryRowContext(ctx, `
		SELECT sensor_id, timestamp, value FROM readings
		WHERE sensor_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`, sensorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoReadings
	}
	if err != nil {
		return nil, fmt.Errorf("querying last reading: %w", err)
	}
	return rd, nil
}

// PruneReadings deletes readings older than before.
func (r *SQLiteRepository) PruneReadings(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM readings WHERE timestamp < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("pruning readings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned readings: %w", err)
	}
	return n, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
