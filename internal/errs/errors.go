package errs

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Callers classify with errors.Is and decide whether an
// attempt is retryable, terminal, or a caller mistake.
var (
	ErrValidation       = errors.New("validation error")
	ErrInvalidState     = errors.New("invalid oauth state")
	ErrMissingCode      = errors.New("missing authorization code")
	ErrTokenExchange    = errors.New("token exchange failed")
	ErrRefresh          = errors.New("token refresh failed")
	ErrAuth             = errors.New("provider rejected credentials")
	ErrNoActiveAccounts = errors.New("no active social accounts")
	ErrNotFound         = errors.New("not found")
	ErrProviderAPI      = errors.New("provider api error")
	ErrPublishTimeout   = errors.New("publish timed out")
	ErrStorage          = errors.New("credential storage error")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func InvalidState(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, reason)
}

func TokenExchange(provider, raw string) error {
	return fmt.Errorf("%w: %s: %s", ErrTokenExchange, provider, raw)
}

func Refresh(provider string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrRefresh, provider, cause)
}

func Auth(provider string, status int, raw string) error {
	return fmt.Errorf("%w: %s returned %d: %s", ErrAuth, provider, status, raw)
}

func NotFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

func ProviderAPI(provider string, status int, raw string) error {
	return fmt.Errorf("%w: %s returned %d: %s", ErrProviderAPI, provider, status, raw)
}

func PublishTimeout(provider string, budget string) error {
	return fmt.Errorf("%w: %s media processing exceeded %s", ErrPublishTimeout, provider, budget)
}

func Storage(cause error) error {
	return fmt.Errorf("%w: %v", ErrStorage, cause)
}

// Retryable reports whether a publish failure should be attempted again
// automatically. Auth and validation failures are terminal for the schedule.
// A processing timeout already burned its whole wall-clock budget, so it
// fails the schedule too; a resume starts a fresh attempt.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrAuth),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrStorage),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPublishTimeout):
		return false
	}
	return true
}
