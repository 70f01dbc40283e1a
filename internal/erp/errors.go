package erp

// Error is a gateway-level sentinel carrying a stable machine code.
type Error struct {
	code string
	text string
}

func (e *Error) Error() string { return e.text }

// Code returns the stable error code.
func (e *Error) Code() string { return e.code }

var (
	// ErrUnauthorized means the gateway rejected the supplied credentials.
	ErrUnauthorized = &Error{code: "CREDENTIAL_REJECTED", text: "gateway rejected credentials"}
	// ErrUnavailable covers timeouts, connection failures and 5xx replies.
	// Callers may suggest a retry; the client never retries writes itself.
	ErrUnavailable = &Error{code: "GATEWAY_UNAVAILABLE", text: "gateway unavailable"}
)

// ValidationError is a document-level rejection from the gateway. The detail
// is server text shown to the user verbatim; the operation must not be
// retried with the same input.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "gateway rejected the document"
	}
	return "gateway rejected the document: " + e.Detail
}

// Code returns the stable error code.
func (e *ValidationError) Code() string { return "VALIDATION_ERROR" }
