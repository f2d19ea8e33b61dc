// Package sqlite persists robots, control state and joint reports in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/robot-control/rcp/internal/arbiter"
	"github.com/robot-control/rcp/internal/robot"
	"github.com/robot-control/rcp/internal/storage/sqlite/migrations"
	"github.com/robot-control/rcp/internal/telemetry"
)

const activeRobotKey = "active_robot"

// ErrDuplicateRobot is returned when a robot ID is already stored.
var ErrDuplicateRobot = errors.New("robot already exists")

// Store is a SQLite-backed store.
type Store struct {
	sqlDB *sql.DB
}

// Compile-time assertions
var (
	_ robot.Store           = (*Store)(nil)
	_ arbiter.StateStore    = (*Store)(nil)
	_ telemetry.JointReader = (*Store)(nil)
)

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps version checks and busy handling simple.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// ListRobots returns robots sorted by ID.
func (s *Store) ListRobots(ctx context.Context) ([]robot.Robot, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, model, joint_count FROM robots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list robots: %w", err)
	}
	defer rows.Close()

	var out []robot.Robot
	for rows.Next() {
		var r robot.Robot
		if err := rows.Scan(&r.ID, &r.Model, &r.JointCount); err != nil {
			return nil, fmt.Errorf("scan robot: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateRobot inserts a robot together with its control and joint rows.
func (s *Store) CreateRobot(ctx context.Context, r robot.Robot) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create robot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO robots (id, model, joint_count, created_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.Model, r.JointCount, time.Now().UTC().UnixMilli()); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("robot %s: %w", r.ID, ErrDuplicateRobot)
		}
		return fmt.Errorf("insert robot %s: %w", r.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO robot_control (robot_id) VALUES (?)`, r.ID); err != nil {
		return fmt.Errorf("insert control row %s: %w", r.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO robot_joint_state (robot_id) VALUES (?)`, r.ID); err != nil {
		return fmt.Errorf("insert joint row %s: %w", r.ID, err)
	}
	return tx.Commit()
}

// ActiveRobot returns the persisted active robot ID, or "".
func (s *Store) ActiveRobot(ctx context.Context) (string, error) {
	var id string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, activeRobotKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read active robot: %w", err)
	}
	return id, nil
}

// SetActiveRobot persists the active robot ID.
func (s *Store) SetActiveRobot(ctx context.Context, robotID string) error {
	if err := s.exists(ctx, robotID); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		activeRobotKey, robotID)
	if err != nil {
		return fmt.Errorf("write active robot: %w", err)
	}
	return nil
}

// LoadControl returns the control row of a robot.
func (s *Store) LoadControl(ctx context.Context, robotID string) (arbiter.ControlState, error) {
	var (
		state      = arbiter.ControlState{RobotID: robotID}
		connected  int
		automatic  int
		acquiredAt int64
		expiresAt  int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT connected, owner_user_id, automatic, lease_id, acquired_at, expires_at, version
		 FROM robot_control WHERE robot_id = ?`, robotID).
		Scan(&connected, &state.OwnerUserID, &automatic, &state.LeaseID, &acquiredAt, &expiresAt, &state.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return arbiter.ControlState{}, fmt.Errorf("robot %s: %w", robotID, robot.ErrNotFound)
	}
	if err != nil {
		return arbiter.ControlState{}, fmt.Errorf("load control %s: %w", robotID, err)
	}
	state.Connected = connected != 0
	state.Automatic = automatic != 0
	state.AcquiredAt = fromMillis(acquiredAt)
	state.ExpiresAt = fromMillis(expiresAt)
	return state, nil
}

// SaveControl writes state when the stored version equals expectedVersion.
func (s *Store) SaveControl(ctx context.Context, state arbiter.ControlState, expectedVersion int64) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE robot_control
		 SET connected = ?, owner_user_id = ?, automatic = ?, lease_id = ?, acquired_at = ?,
		     expires_at = ?, version = ?
		 WHERE robot_id = ? AND version = ?`,
		boolToInt(state.Connected), state.OwnerUserID, boolToInt(state.Automatic),
		state.LeaseID, toMillis(state.AcquiredAt), toMillis(state.ExpiresAt), state.Version,
		state.RobotID, expectedVersion)
	if err != nil {
		return fmt.Errorf("save control %s: %w", state.RobotID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save control %s: %w", state.RobotID, err)
	}
	if n == 0 {
		if err := s.exists(ctx, state.RobotID); err != nil {
			return err
		}
		return fmt.Errorf("robot %s not at version %d: %w", state.RobotID, expectedVersion, arbiter.ErrConflict)
	}
	return nil
}

// JointState returns the last orientation report. The column holds
// comma-separated integers, empty when nothing was reported yet.
func (s *Store) JointState(ctx context.Context, robotID string) ([]int, time.Time, error) {
	var (
		csv       string
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT joint_orientation, updated_at FROM robot_joint_state WHERE robot_id = ?`, robotID).
		Scan(&csv, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, fmt.Errorf("robot %s: %w", robotID, robot.ErrNotFound)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load joints %s: %w", robotID, err)
	}
	values, err := parseOrientation(csv)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("robot %s: %w", robotID, err)
	}
	return values, fromMillis(updatedAt), nil
}

// SetJointState stores an orientation report.
func (s *Store) SetJointState(ctx context.Context, robotID string, values []int, at time.Time) error {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE robot_joint_state SET joint_orientation = ?, updated_at = ? WHERE robot_id = ?`,
		strings.Join(parts, ","), toMillis(at), robotID)
	if err != nil {
		return fmt.Errorf("save joints %s: %w", robotID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("robot %s: %w", robotID, robot.ErrNotFound)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, robotID string) error {
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM robots WHERE id = ?`, robotID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("robot %s: %w", robotID, robot.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup robot %s: %w", robotID, err)
	}
	return nil
}

func parseOrientation(csv string) ([]int, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil, nil
	}
	fields := strings.Split(csv, ",")
	values := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("bad joint orientation %q: %w", csv, err)
		}
		values[i] = v
	}
	return values, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
