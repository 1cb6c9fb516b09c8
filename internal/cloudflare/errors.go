package cloudflare

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports malformed input caught locally, before any
// network request is issued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientError reports a failure that was retried and still failed:
// network errors, 5xx responses, and rate-limit signals.
type TransientError struct {
	StatusCode int // 0 for network-level failures
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider unavailable (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider unreachable: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError reports a 4xx-class provider rejection, surfaced
// immediately without retries, with the provider-supplied detail.
type PermanentError struct {
	StatusCode int
	Code       int // provider error code, 0 if none supplied
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider rejected request (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider rejected request (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if err is a permanent 404 from the provider.
// Used for idempotent deletes: deleting an already-deleted resource is
// treated as success.
func IsNotFound(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm) && perm.StatusCode == http.StatusNotFound
}
