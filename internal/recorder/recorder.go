// Package recorder samples joint telemetry into a sqlite database for
// offline analysis. Each run gets its own session row; samples are written
// one row per joint at a fixed interval.
package recorder

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aau-robotics/davinci-link/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Source is the view of the robot the recorder samples. *arm.Arm satisfies
// it.
type Source interface {
	JointNames() []string
	Positions() []float64
	Velocities() []float64
	Efforts() []float64
	Setpoints() []float64
	ActiveVector() []bool
}

// Recorder owns the database handle and the current session.
type Recorder struct {
	db        *sql.DB
	sessionID string
}

// Open opens or creates the database at path, runs pending migrations and
// starts a new recording session for the given joints.
func Open(path string, jointNames []string) (*Recorder, error) {
	if len(jointNames) == 0 {
		return nil, errors.New("recorder: no joints to record")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	sessionID := uuid.New().String()
	_, err = db.Exec(
		`INSERT INTO sessions (session_id, joint_names) VALUES (?, ?)`,
		sessionID, strings.Join(jointNames, ","),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("recorder: create session: %w", err)
	}

	return &Recorder{db: db, sessionID: sessionID}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("recorder: load migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("recorder: sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("recorder: migrate instance: %w", err)
	}
	// Closing m would close the shared DB handle, so it is left to the GC.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("recorder: migration up failed: %w", err)
	}
	return nil
}

// SessionID returns the id of the current recording session.
func (r *Recorder) SessionID() string { return r.sessionID }

// Sample writes one row per joint with the source's current state.
func (r *Recorder) Sample(src Source) error {
	names := src.JointNames()
	positions := src.Positions()
	velocities := src.Velocities()
	efforts := src.Efforts()
	setpoints := src.Setpoints()
	active := src.ActiveVector()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("recorder: begin sample: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO samples (session_id, joint, position, velocity, effort, setpoint, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("recorder: prepare sample: %w", err)
	}
	defer stmt.Close()

	for i, name := range names {
		if _, err := stmt.Exec(r.sessionID, name, positions[i], velocities[i], efforts[i], setpoints[i], active[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("recorder: insert sample for %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// Run samples the source at the given interval until the context is
// cancelled. Individual sample failures are logged and skipped; the loop
// stops only on cancellation.
func (r *Recorder) Run(ctx context.Context, src Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sample(src); err != nil {
				monitoring.Logf("recorder: %v", err)
			}
		}
	}
}

// SampleCount returns the number of sample rows in the current session.
func (r *Recorder) SampleCount() (int, error) {
	var n int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM samples WHERE session_id = ?`, r.sessionID).Scan(&n)
	return n, err
}

// Close closes the database handle.
func (r *Recorder) Close() error {
	return r.db.Close()
}
