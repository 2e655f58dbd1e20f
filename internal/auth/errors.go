package auth

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// Sentinel errors. Use errors.Is(err, auth.ErrUnknownState) to check.
var (
	ErrUnknownState        = errors.New("auth: unknown or expired login state")
	ErrProviderRejected    = errors.New("auth: identity provider rejected the request")
	ErrProviderUnreachable = errors.New("auth: identity provider unreachable")
	ErrNoRefreshToken      = errors.New("auth: no refresh token")
	ErrNoCredential        = errors.New("auth: no credential")
)

// AuthError is a failed interactive login. Kind is the sentinel; Err is the
// underlying cause, if any.
type AuthError struct {
	Kind error
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}

	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// RefreshError is a failed refresh. The current credential is unchanged.
type RefreshError struct {
	Kind error
	Err  error
}

func (e *RefreshError) Error() string {
	if e.Err == nil {
		return "auth: refresh failed: " + e.Kind.Error()
	}

	return fmt.Sprintf("auth: refresh failed: %s: %v", e.Kind, e.Err)
}

func (e *RefreshError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// classify maps an oauth2 token endpoint error to a sentinel. A decoded
// error response is a rejection; anything else never reached the provider
// or never got a usable answer.
func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return ErrProviderRejected
	}

	return ErrProviderUnreachable
}
