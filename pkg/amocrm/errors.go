package amocrm

import (
	"errors"
	"fmt"
)

// AuthError reports that the CRM rejected the credentials: either the token
// refresh failed or the request was still unauthorized after a refresh.
type AuthError struct {
	StatusCode int
	Reason     string
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return "amocrm: auth: " + e.Reason
	}
	return fmt.Sprintf("amocrm: auth: %s (status %d)", e.Reason, e.StatusCode)
}

// HTTPError is a non-2xx response other than the handled 401.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("amocrm: %s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Transient reports whether the status indicates a server-side issue.
func (e *HTTPError) Transient() bool {
	switch e.StatusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// TransportError wraps a network-level failure (timeout, refused or reset
// connection). The client never retries these itself.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("amocrm: %s %s: transport: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transient always reports true; transport failures are safe to retry.
func (e *TransportError) Transient() bool {
	return true
}

// IsAuth reports whether err (or any error in its chain) is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransport reports whether err (or any error in its chain) is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}
