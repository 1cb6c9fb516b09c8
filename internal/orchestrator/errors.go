package orchestrator

import (
	"errors"
	"fmt"

	"github.com/tunnelkeep/tunnelkeep/internal/auth"
	"github.com/tunnelkeep/tunnelkeep/internal/cloudflare"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
	"github.com/tunnelkeep/tunnelkeep/internal/tunnel"
)

// AuthorizationError is a denial from access control, surfaced as a display
// payload rather than internal detail.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "not authorized: " + e.Reason
}

// StaleReferenceError is returned when the session points at a tenant or
// tunnel that no longer exists. The facade clears the dangling reference
// before surfacing it.
type StaleReferenceError struct {
	Kind string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("selected %s no longer exists", e.Kind)
}

// UsageError reports a malformed or incomplete command, caught before any
// remote call.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string {
	return e.Reason
}

// Display converts any error crossing the facade boundary into text safe to
// show the user. Provider detail is shown only for permanent failures,
// where it carries actionable validation info; transient failures and
// internal errors are summarized.
func Display(err error) string {
	var denied *auth.DeniedError
	if errors.As(err, &denied) {
		return "You are not authorized to do that: " + denied.Reason + "."
	}

	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		return "You are not authorized to do that: " + authErr.Reason + "."
	}

	var stale *StaleReferenceError
	if errors.As(err, &stale) {
		return "Your selected " + stale.Kind + " no longer exists. The selection has been cleared."
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return usage.Reason
	}

	var validation *cloudflare.ValidationError
	if errors.As(err, &validation) {
		return "Invalid " + validation.Field + ": " + validation.Reason + "."
	}

	var permanent *cloudflare.PermanentError
	if errors.As(err, &permanent) {
		return "The provider rejected the request: " + permanent.Message + "."
	}

	var transient *cloudflare.TransientError
	if errors.As(err, &transient) {
		return "The provider is temporarily unavailable. Please try again."
	}

	switch {
	case errors.Is(err, tunnel.ErrNameInUse):
		return "A tunnel with that name already exists. Pick another name."
	case errors.Is(err, tunnel.ErrNotConfigurable):
		return "That tunnel cannot be configured in its current state."
	case errors.Is(err, tunnel.ErrHostnameExists):
		return "That hostname is already attached to the tunnel."
	case errors.Is(err, tunnel.ErrHostnameNotFound):
		return "That hostname is not attached to the tunnel."
	case errors.Is(err, tunnel.ErrNetworkExists):
		return "That network route is already attached to the tunnel."
	case errors.Is(err, tunnel.ErrNetworkNotFound):
		return "That network route is not attached to the tunnel."
	case errors.Is(err, store.ErrTenantNotFound):
		return "No such tenant."
	case errors.Is(err, store.ErrTenantAlreadyExists):
		return "A tenant with that name already exists."
	case errors.Is(err, store.ErrTunnelNotFound):
		return "No such tunnel."
	case errors.Is(err, store.ErrDomainGroupNotFound):
		return "No such domain group."
	}

	return "Something went wrong. Please try again."
}
