package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"assignbot/core/logger"
	"assignbot/internal/erp"
	"assignbot/internal/store"
)

// Gateway is the slice of the ERP client the service depends on.
type Gateway interface {
	VerifyIdentity(ctx context.Context, creds erp.Credentials) error
	FindCustomer(ctx context.Context, creds erp.Credentials, name string) (string, error)
	CreateCustomer(ctx context.Context, creds erp.Credentials, name, group, ctype string) (string, error)
	QueryReport(ctx context.Context, creds erp.Credentials, resource string, fields []string, limit int) ([]map[string]any, error)
}

// ReportConfig selects what /report fetches.
type ReportConfig struct {
	Resource string   `yaml:"resource" envconfig:"REPORT_RESOURCE"`
	Fields   []string `yaml:"fields" envconfig:"REPORT_FIELDS"`
	Limit    int      `yaml:"limit" envconfig:"REPORT_LIMIT"`
}

// CustomerConfig supplies defaults for auto-created Customer documents.
type CustomerConfig struct {
	Group string `yaml:"group" envconfig:"CUSTOMER_GROUP"`
	Type  string `yaml:"type" envconfig:"CUSTOMER_TYPE"`
}

// Config is the immutable business configuration, loaded once at startup and
// passed in by the constructor.
type Config struct {
	AdminIDs []int64
	Report   ReportConfig
	Customer CustomerConfig
}

func (c Config) isAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Assignments enforces the business rules above the raw store and gates
// ERP-dependent features on credential verification.
type Assignments struct {
	store store.Store
	gw    Gateway
	cfg   Config
}

// New builds the assignment service.
func New(st store.Store, gw Gateway, cfg Config) *Assignments {
	if cfg.Report.Limit <= 0 {
		cfg.Report.Limit = 10
	}
	return &Assignments{store: st, gw: gw, cfg: cfg}
}

// IsAdmin reports whether the user is in the configured admin set.
func (s *Assignments) IsAdmin(userID int64) bool {
	return s.cfg.isAdmin(userID)
}

// RegisterStart records a /start: the user becomes an assignment candidate.
func (s *Assignments) RegisterStart(ctx context.Context, user store.User) error {
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return fmt.Errorf("register start: %w", err)
	}
	logger.SVCAssignments.Debug("user started",
		slog.String("event", "svc.start"),
		slog.Int64("user_id", user.ID),
	)
	return nil
}

// TouchGroup refreshes the group record (title snapshot) on any activity.
func (s *Assignments) TouchGroup(ctx context.Context, group store.Group) error {
	if err := s.store.UpsertGroup(ctx, group); err != nil {
		return fmt.Errorf("touch group: %w", err)
	}
	return nil
}

// User returns a registered user by id.
func (s *Assignments) User(ctx context.Context, userID int64) (store.User, error) {
	return s.store.GetUser(ctx, userID)
}

// ReportFields exposes the configured report column order for rendering.
func (s *Assignments) ReportFields() []string {
	return s.cfg.Report.Fields
}

// Candidates lists started users currently managing no group.
func (s *Assignments) Candidates(ctx context.Context, limit int) ([]store.User, error) {
	return s.store.ListUnassignedUsers(ctx, limit)
}

// RequestAssignment binds the candidate to the group on behalf of an admin.
// Store-level race losers surface as ErrAlreadyAssigned / ErrUserAlreadyManager.
func (s *Assignments) RequestAssignment(ctx context.Context, adminID, groupID, candidateID int64, override bool) (store.Assignment, error) {
	if !s.cfg.isAdmin(adminID) {
		return store.Assignment{}, ErrNotAdmin
	}
	if _, err := s.store.GetUser(ctx, candidateID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Assignment{}, ErrCandidateNeverStarted
		}
		return store.Assignment{}, fmt.Errorf("request assignment: %w", err)
	}

	a, err := s.store.AssignManager(ctx, groupID, candidateID, override)
	if err != nil {
		return store.Assignment{}, err
	}
	logger.SVCAssignments.Info("manager assigned",
		slog.String("event", "svc.assign"),
		slog.Int64("group_id", groupID),
		slog.Int64("user_id", candidateID),
		slog.Bool("override", override),
	)
	return a, nil
}

// ClearGroup removes the group's assignment (admin action). Idempotent.
func (s *Assignments) ClearGroup(ctx context.Context, adminID, groupID int64) error {
	if !s.cfg.isAdmin(adminID) {
		return ErrNotAdmin
	}
	if err := s.store.ClearAssignment(ctx, groupID); err != nil {
		return fmt.Errorf("clear group: %w", err)
	}
	logger.SVCAssignments.Info("assignment cleared",
		slog.String("event", "svc.clear"),
		slog.Int64("group_id", groupID),
	)
	return nil
}

// VerifyAndActivate checks the key/secret pair against the gateway and
// persists it only after a successful identity check. A rejected pair is
// never stored; a gateway outage mutates nothing.
func (s *Assignments) VerifyAndActivate(ctx context.Context, userID int64, key, secret string) error {
	err := s.gw.VerifyIdentity(ctx, erp.Credentials{Key: key, Secret: secret})
	switch {
	case err == nil:
	case errors.Is(err, erp.ErrUnauthorized):
		logger.SVCAssignments.Warn("credentials rejected",
			slog.String("event", "svc.verify"),
			slog.Int64("user_id", userID),
		)
		return ErrCredentialRejected
	default:
		return err
	}

	if err := s.store.StoreCredential(ctx, userID, key, secret); err != nil {
		return fmt.Errorf("verify and activate: %w", err)
	}
	logger.SVCAssignments.Info("credentials verified",
		slog.String("event", "svc.verify"),
		slog.Int64("user_id", userID),
	)
	return nil
}

// ResetCredentials clears the credential, forcing re-verification before
// ERP-backed commands work again. Idempotent.
func (s *Assignments) ResetCredentials(ctx context.Context, userID int64) error {
	if err := s.store.ClearCredential(ctx, userID); err != nil {
		return fmt.Errorf("reset credentials: %w", err)
	}
	logger.SVCAssignments.Info("credentials reset",
		slog.String("event", "svc.reset"),
		slog.Int64("user_id", userID),
	)
	return nil
}

// ManagerCredential authorizes an ERP-backed command: the user must be the
// group's active manager and hold a verified credential.
func (s *Assignments) ManagerCredential(ctx context.Context, groupID, userID int64) (erp.Credentials, error) {
	a, err := s.store.GetAssignment(ctx, groupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return erp.Credentials{}, ErrNotAuthorizedManager
		}
		return erp.Credentials{}, fmt.Errorf("manager credential: %w", err)
	}
	if a.UserID != userID {
		return erp.Credentials{}, ErrNotAuthorizedManager
	}

	cred, err := s.store.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return erp.Credentials{}, ErrCredentialsMissing
		}
		return erp.Credentials{}, fmt.Errorf("manager credential: %w", err)
	}
	return erp.Credentials{Key: cred.APIKey, Secret: cred.APISecret}, nil
}

// GroupStatus is the /status projection for a group chat.
type GroupStatus struct {
	Assigned   bool
	Manager    store.User
	Verified   bool
	CustomerID string
}

// Status returns the group's assignment state.
func (s *Assignments) Status(ctx context.Context, groupID int64) (GroupStatus, error) {
	a, err := s.store.GetAssignment(ctx, groupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return GroupStatus{}, nil
		}
		return GroupStatus{}, fmt.Errorf("status: %w", err)
	}

	st := GroupStatus{Assigned: true, CustomerID: a.CustomerID}
	if u, err := s.store.GetUser(ctx, a.UserID); err == nil {
		st.Manager = u
	} else {
		st.Manager = store.User{ID: a.UserID}
	}
	if _, err := s.store.GetCredential(ctx, a.UserID); err == nil {
		st.Verified = true
	}
	return st, nil
}

// UserStatus is the /status projection for a private chat.
type UserStatus struct {
	Manages    bool
	GroupID    int64
	GroupTitle string
	Verified   bool
}

// StatusForUser returns the user's own assignment state.
func (s *Assignments) StatusForUser(ctx context.Context, userID int64) (UserStatus, error) {
	a, err := s.store.GetAssignmentForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return UserStatus{}, nil
		}
		return UserStatus{}, fmt.Errorf("status for user: %w", err)
	}

	st := UserStatus{Manages: true, GroupID: a.GroupID}
	if g, err := s.store.GetGroup(ctx, a.GroupID); err == nil {
		st.GroupTitle = g.Title
	}
	if _, err := s.store.GetCredential(ctx, userID); err == nil {
		st.Verified = true
	}
	return st, nil
}

// EnsureCustomer returns the ERP Customer docname for the group, creating
// the Customer from the group title on first use and recording the linkage.
// The boolean reports whether this call created the document.
func (s *Assignments) EnsureCustomer(ctx context.Context, groupID, userID int64) (string, bool, error) {
	a, err := s.store.GetAssignment(ctx, groupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", false, ErrNotAuthorizedManager
		}
		return "", false, fmt.Errorf("ensure customer: %w", err)
	}
	if a.CustomerID != "" {
		return a.CustomerID, false, nil
	}

	creds, err := s.ManagerCredential(ctx, groupID, userID)
	if err != nil {
		return "", false, err
	}

	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return "", false, fmt.Errorf("ensure customer: %w", err)
	}
	name := g.Title
	if name == "" {
		name = fmt.Sprintf("Group %d", groupID)
	}

	created := false
	docname, err := s.gw.FindCustomer(ctx, creds, name)
	if err != nil {
		return "", false, err
	}
	if docname == "" {
		docname, err = s.gw.CreateCustomer(ctx, creds, name, s.cfg.Customer.Group, s.cfg.Customer.Type)
		if err != nil {
			return "", false, err
		}
		created = true
	}

	if err := s.store.SetCustomer(ctx, groupID, docname); err != nil {
		return "", false, fmt.Errorf("ensure customer: %w", err)
	}
	logger.SVCAssignments.Info("customer linked",
		slog.String("event", "svc.customer"),
		slog.Int64("group_id", groupID),
		slog.Bool("created", created),
		slog.String("customer", docname),
	)
	return docname, created, nil
}

// Report fetches the configured sales report for the group's manager.
func (s *Assignments) Report(ctx context.Context, groupID, userID int64) ([]map[string]any, error) {
	creds, err := s.ManagerCredential(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.gw.QueryReport(ctx, creds, s.cfg.Report.Resource, s.cfg.Report.Fields, s.cfg.Report.Limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
