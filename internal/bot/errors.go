package bot

// Error is a controller-level sentinel carrying a stable machine code.
type Error struct {
	code string
	text string
}

func (e *Error) Error() string { return e.text }

// Code returns the stable error code.
func (e *Error) Code() string { return e.code }

// ErrNoActiveSession means /clear or a wizard event arrived with no live
// wizard session for the (group, user) pair.
var ErrNoActiveSession = &Error{code: "NO_ACTIVE_SESSION", text: "no active wizard session"}
