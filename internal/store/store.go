package store

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// User is a chat account known to the bot. Created on first /start and
// never deleted; only its assignment relation changes.
type User struct {
	ID        int64     `db:"user_id"`
	Username  string    `db:"username"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	StartedAt time.Time `db:"started_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DisplayLabel returns a human-readable label for keyboards and status texts.
func (u User) DisplayLabel() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" && u.Username != "" {
		return name + " (@" + u.Username + ")"
	}
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "id:" + strconv.FormatInt(u.ID, 10)
}

// Group is a chat group the bot has seen activity in.
type Group struct {
	ID        int64     `db:"group_id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Assignment binds exactly one user to exactly one group as its sales manager.
// CustomerID holds the ERP Customer docname created for the group, empty until
// the first customer lookup.
type Assignment struct {
	GroupID    int64     `db:"group_id"`
	UserID     int64     `db:"user_id"`
	AssignedAt time.Time `db:"assigned_at"`
	CustomerID string    `db:"customer_id"`
}

// Credential is a manager's verified ERP key/secret pair. A row exists only
// after a successful identity check against the gateway.
type Credential struct {
	UserID     int64     `db:"user_id"`
	APIKey     string    `db:"api_key"`
	APISecret  string    `db:"api_secret"`
	VerifiedAt time.Time `db:"verified_at"`
}

// Store is the durable persistence contract. All mutating operations are
// atomic per call; uniqueness invariants are enforced by the storage engine,
// not by check-then-act in callers.
type Store interface {
	UpsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, userID int64) (User, error)
	// ListUnassignedUsers returns users who issued /start and currently
	// manage no group, for the admin candidate picker.
	ListUnassignedUsers(ctx context.Context, limit int) ([]User, error)

	UpsertGroup(ctx context.Context, group Group) error
	GetGroup(ctx context.Context, groupID int64) (Group, error)

	// AssignManager binds user to group. Without override it fails with
	// ErrAlreadyAssigned if the group already has a different manager.
	// It fails with ErrUserAlreadyManager if the user manages another
	// group, override or not. With override the previous group binding is
	// replaced and the previous manager's credential is removed.
	AssignManager(ctx context.Context, groupID, userID int64, override bool) (Assignment, error)
	GetAssignment(ctx context.Context, groupID int64) (Assignment, error)
	GetAssignmentForUser(ctx context.Context, userID int64) (Assignment, error)
	// ClearAssignment removes the binding and the manager's credential.
	// Clearing an unassigned group is a no-op, not an error.
	ClearAssignment(ctx context.Context, groupID int64) error
	SetCustomer(ctx context.Context, groupID int64, customerID string) error

	StoreCredential(ctx context.Context, userID int64, key, secret string) error
	GetCredential(ctx context.Context, userID int64) (Credential, error)
	ClearCredential(ctx context.Context, userID int64) error

	Close() error
}
