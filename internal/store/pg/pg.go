package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"assignbot/core/logger"
	"assignbot/internal/store"
)

// Constraint names from migrations; used to translate unique violations
// into domain errors.
const (
	constraintAssignmentsPK      = "assignments_pkey"
	constraintAssignmentsUserKey = "assignments_user_id_key"
)

// DB is the Postgres-backed store. Uniqueness guarantees come
// from the schema: assignments.group_id is the primary key and
// assignments.user_id carries a unique index, so race losers surface as
// 23505 violations instead of silently overwriting.
type DB struct {
	db *sqlx.DB
}

// New wraps an already connected sqlx handle.
func New(db *sqlx.DB) *DB {
	return &DB{db: db}
}

// Close releases the underlying connection pool.
func (s *DB) Close() error {
	return s.db.Close()
}

// UpsertUser inserts the user or refreshes its display fields. started_at is
// preserved on conflict so the first /start timestamp survives.
func (s *DB) UpsertUser(ctx context.Context, user store.User) error {
	const q = `
		INSERT INTO users (user_id, username, first_name, last_name, started_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			username   = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name  = EXCLUDED.last_name,
			updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, user.ID, user.Username, user.FirstName, user.LastName); err != nil {
		return fmt.Errorf("upsert user %d: %w", user.ID, err)
	}
	return nil
}

// GetUser returns the user or store.ErrNotFound.
func (s *DB) GetUser(ctx context.Context, userID int64) (store.User, error) {
	const q = `
		SELECT user_id, username, first_name, last_name, started_at, updated_at
		FROM users WHERE user_id = $1`
	var u store.User
	if err := s.db.GetContext(ctx, &u, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, store.ErrNotFound
		}
		return store.User{}, fmt.Errorf("get user %d: %w", userID, err)
	}
	return u, nil
}

// ListUnassignedUsers returns started users with no active assignment,
// oldest /start first.
func (s *DB) ListUnassignedUsers(ctx context.Context, limit int) ([]store.User, error) {
	const q = `
		SELECT u.user_id, u.username, u.first_name, u.last_name, u.started_at, u.updated_at
		FROM users u
		LEFT JOIN assignments a ON a.user_id = u.user_id
		WHERE a.user_id IS NULL
		ORDER BY u.started_at
		LIMIT $1`
	var users []store.User
	if err := s.db.SelectContext(ctx, &users, q, limit); err != nil {
		return nil, fmt.Errorf("list unassigned users: %w", err)
	}
	return users, nil
}

// UpsertGroup inserts the group or refreshes its title snapshot.
func (s *DB) UpsertGroup(ctx context.Context, group store.Group) error {
	const q = `
		INSERT INTO groups (group_id, title, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (group_id) DO UPDATE SET
			title      = EXCLUDED.title,
			updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, group.ID, group.Title); err != nil {
		return fmt.Errorf("upsert group %d: %w", group.ID, err)
	}
	return nil
}

// GetGroup returns the group or store.ErrNotFound.
func (s *DB) GetGroup(ctx context.Context, groupID int64) (store.Group, error) {
	const q = `SELECT group_id, title, created_at, updated_at FROM groups WHERE group_id = $1`
	var g store.Group
	if err := s.db.GetContext(ctx, &g, q, groupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Group{}, store.ErrNotFound
		}
		return store.Group{}, fmt.Errorf("get group %d: %w", groupID, err)
	}
	return g, nil
}

// AssignManager binds user to group inside one transaction. Constraint
// violations from racing writers are translated into domain errors; the
// schema, not application logic, decides the winner.
func (s *DB) AssignManager(ctx context.Context, groupID, userID int64, override bool) (store.Assignment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.Assignment{}, fmt.Errorf("assign manager: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current store.Assignment
	err = tx.GetContext(ctx, &current, `
		SELECT group_id, user_id, assigned_at, COALESCE(customer_id, '') AS customer_id
		FROM assignments WHERE group_id = $1 FOR UPDATE`, groupID)
	switch {
	case err == nil:
		if current.UserID == userID {
			// Re-assigning the same manager is a no-op.
			if err := tx.Commit(); err != nil {
				return store.Assignment{}, fmt.Errorf("assign manager: commit: %w", err)
			}
			return current, nil
		}
		if !override {
			return store.Assignment{}, store.ErrAlreadyAssigned
		}
		// Replace binding: previous manager loses the seat and the
		// credential tied to it.
		if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = $1`, current.UserID); err != nil {
			return store.Assignment{}, fmt.Errorf("assign manager: drop previous credential: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE group_id = $1`, groupID); err != nil {
			return store.Assignment{}, fmt.Errorf("assign manager: drop previous binding: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// Group unassigned; fall through to insert.
	default:
		return store.Assignment{}, fmt.Errorf("assign manager: read current: %w", err)
	}

	var created store.Assignment
	err = tx.GetContext(ctx, &created, `
		INSERT INTO assignments (group_id, user_id, assigned_at)
		VALUES ($1, $2, NOW())
		RETURNING group_id, user_id, assigned_at, COALESCE(customer_id, '') AS customer_id`,
		groupID, userID)
	if err != nil {
		return store.Assignment{}, translateAssignErr(err)
	}

	if err := tx.Commit(); err != nil {
		return store.Assignment{}, translateAssignErr(err)
	}

	logger.DB.Debug("assignment created",
		slog.String("event", "db.assign"),
		slog.Int64("group_id", groupID),
		slog.Int64("user_id", userID),
		slog.Bool("override", override),
	)
	return created, nil
}

// translateAssignErr maps unique-violation race losers onto domain errors.
func translateAssignErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch {
		case pqErr.Constraint == constraintAssignmentsUserKey:
			return store.ErrUserAlreadyManager
		case pqErr.Constraint == constraintAssignmentsPK,
			strings.Contains(pqErr.Constraint, "pkey"):
			return store.ErrAlreadyAssigned
		}
	}
	return fmt.Errorf("assign manager: %w", err)
}

// GetAssignment returns the group's active assignment or store.ErrNotFound.
func (s *DB) GetAssignment(ctx context.Context, groupID int64) (store.Assignment, error) {
	const q = `
		SELECT group_id, user_id, assigned_at, COALESCE(customer_id, '') AS customer_id
		FROM assignments WHERE group_id = $1`
	var a store.Assignment
	if err := s.db.GetContext(ctx, &a, q, groupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Assignment{}, store.ErrNotFound
		}
		return store.Assignment{}, fmt.Errorf("get assignment for group %d: %w", groupID, err)
	}
	return a, nil
}

// GetAssignmentForUser returns the group the user manages or store.ErrNotFound.
func (s *DB) GetAssignmentForUser(ctx context.Context, userID int64) (store.Assignment, error) {
	const q = `
		SELECT group_id, user_id, assigned_at, COALESCE(customer_id, '') AS customer_id
		FROM assignments WHERE user_id = $1`
	var a store.Assignment
	if err := s.db.GetContext(ctx, &a, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Assignment{}, store.ErrNotFound
		}
		return store.Assignment{}, fmt.Errorf("get assignment for user %d: %w", userID, err)
	}
	return a, nil
}

// ClearAssignment removes the binding and the bound manager's credential.
// Idempotent: clearing an unassigned group succeeds without touching anything.
func (s *DB) ClearAssignment(ctx context.Context, groupID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear assignment: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID int64
	err = tx.GetContext(ctx, &userID, `SELECT user_id FROM assignments WHERE group_id = $1 FOR UPDATE`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return tx.Commit()
	}
	if err != nil {
		return fmt.Errorf("clear assignment: read: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear assignment: drop credential: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("clear assignment: drop binding: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear assignment: commit: %w", err)
	}

	logger.DB.Debug("assignment cleared",
		slog.String("event", "db.clear"),
		slog.Int64("group_id", groupID),
		slog.Int64("user_id", userID),
	)
	return nil
}

// SetCustomer records the ERP Customer docname created for the group.
func (s *DB) SetCustomer(ctx context.Context, groupID int64, customerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assignments SET customer_id = $2 WHERE group_id = $1`, groupID, customerID)
	if err != nil {
		return fmt.Errorf("set customer for group %d: %w", groupID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// StoreCredential persists a verified key/secret pair for the user.
func (s *DB) StoreCredential(ctx context.Context, userID int64, key, secret string) error {
	const q = `
		INSERT INTO credentials (user_id, api_key, api_secret, verified_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			api_key     = EXCLUDED.api_key,
			api_secret  = EXCLUDED.api_secret,
			verified_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, userID, key, secret); err != nil {
		return fmt.Errorf("store credential for user %d: %w", userID, err)
	}
	return nil
}

// GetCredential returns the user's verified credential or store.ErrNotFound.
func (s *DB) GetCredential(ctx context.Context, userID int64) (store.Credential, error) {
	const q = `SELECT user_id, api_key, api_secret, verified_at FROM credentials WHERE user_id = $1`
	var c store.Credential
	if err := s.db.GetContext(ctx, &c, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Credential{}, store.ErrNotFound
		}
		return store.Credential{}, fmt.Errorf("get credential for user %d: %w", userID, err)
	}
	return c, nil
}

// ClearCredential removes the user's credential. Idempotent.
func (s *DB) ClearCredential(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear credential for user %d: %w", userID, err)
	}
	return nil
}

var _ store.Store = (*DB)(nil)
