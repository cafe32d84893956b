package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a remote call failed.
type Kind string

const (
	// KindTransport covers network, timeout and server-side availability
	// failures. Worth retrying.
	KindTransport Kind = "transport"
	// KindAuth means the credential was missing, expired or refused.
	// Retrying without a new credential will not help.
	KindAuth Kind = "auth"
	// KindApplication means the remote understood the request and rejected it.
	KindApplication Kind = "application"
)

// Error is the only error type returned by Client methods.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	switch {
	case msg == "" && e.Err != nil:
		msg = e.Err.Error()
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error: %s: HTTP %d: %s", e.Kind, e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s error: %s: %s", e.Kind, e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err. Errors that did not come from
// this package count as transport failures.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransport
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return err != nil && KindOf(err) == KindAuth
}

// classifyStatus maps a non-2xx response code to a failure kind.
func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return KindTransport
	default:
		return KindApplication
	}
}
