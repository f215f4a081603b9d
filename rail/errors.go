package rail

import (
	"errors"
	"strings"
)

var (
	// ErrLoginFailed indicates the backend rejected the credentials or the login captcha.
	ErrLoginFailed = errors.New("login failed")
	// ErrInvalidOperation indicates a caller precondition was violated.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrUnfinishedTransaction indicates the account already has a pending order.
	ErrUnfinishedTransaction = errors.New("unfinished transaction")
	// ErrDataExpired indicates the train listing used for the order is stale.
	ErrDataExpired = errors.New("train data expired")
	// ErrPurchaseFailed indicates the backend rejected a purchase step.
	ErrPurchaseFailed = errors.New("purchase failed")
	// ErrInvalidRequest indicates an unrecognized backend rejection.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrProtocolShapeMismatch indicates a response is missing expected fields, tokens or content type.
	ErrProtocolShapeMismatch = errors.New("protocol shape mismatch")
	// ErrStateDesync indicates the local login state disagrees with the backend.
	ErrStateDesync = errors.New("login state desync")
	// ErrStaleCaptcha indicates a captcha was issued under a different session or for another purpose.
	ErrStaleCaptcha = errors.New("stale captcha")
	// ErrAborted indicates a captcha solver or queue observer asked to stop.
	ErrAborted = errors.New("aborted")
)

// BackendError is a rejection reported by the ticketing backend. It unwraps
// to its Kind so callers can match it with errors.Is.
type BackendError struct {
	Kind     error
	Messages []string
}

func (e *BackendError) Error() string {
	if len(e.Messages) == 0 {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + strings.Join(e.Messages, "; ")
}

func (e *BackendError) Unwrap() error {
	return e.Kind
}

// Rejected builds a BackendError of the given kind.
func Rejected(kind error, messages ...string) error {
	return &BackendError{Kind: kind, Messages: messages}
}
