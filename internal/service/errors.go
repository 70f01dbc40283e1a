package service

// Error is a service-level sentinel carrying a stable machine code.
type Error struct {
	code string
	text string
}

func (e *Error) Error() string { return e.text }

// Code returns the stable error code.
func (e *Error) Code() string { return e.code }

var (
	// ErrNotAdmin means the caller is not in the configured admin set.
	ErrNotAdmin = &Error{code: "NOT_ADMIN", text: "caller is not an administrator"}
	// ErrCandidateNeverStarted means the candidate has no /start record.
	ErrCandidateNeverStarted = &Error{code: "CANDIDATE_NEVER_STARTED", text: "candidate never started the bot"}
	// ErrNotAuthorizedManager means the user is not the group's active manager.
	ErrNotAuthorizedManager = &Error{code: "NOT_AUTHORIZED_MANAGER", text: "user is not the active manager of this group"}
	// ErrCredentialsMissing means the manager has no verified credential yet.
	ErrCredentialsMissing = &Error{code: "CREDENTIALS_MISSING", text: "manager has no verified credentials"}
	// ErrCredentialRejected means the gateway refused the key/secret pair.
	ErrCredentialRejected = &Error{code: "CREDENTIAL_REJECTED", text: "gateway rejected the credentials"}
)
