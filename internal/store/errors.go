package store

// Error is a store-level sentinel carrying a stable machine code for
// handler summary logs.
type Error struct {
	code string
	text string
}

func (e *Error) Error() string { return e.text }

// Code returns the stable error code.
func (e *Error) Code() string { return e.code }

var (
	// ErrNotFound signals an absent record; callers treat it as "none".
	ErrNotFound = &Error{code: "NOT_FOUND", text: "record not found"}
	// ErrAlreadyAssigned means the group already has a different active manager.
	ErrAlreadyAssigned = &Error{code: "ALREADY_ASSIGNED", text: "group already has an active manager"}
	// ErrUserAlreadyManager means the user already manages a different group.
	ErrUserAlreadyManager = &Error{code: "USER_ALREADY_MANAGER", text: "user already manages another group"}
)
