package visitor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PromtiorLabs/chat_svc/internal/model"
)

// ValidationWindow bounds how long a captured visitor identity stays valid.
const ValidationWindow = 30 * time.Minute

var (
	ErrInvalidVisitorName  = errors.New("invalid_visitor_name")
	ErrInvalidVisitorEmail = errors.New("invalid_visitor_email")
)

// Identity is the self-reported name and email a visitor submits before chatting.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// State is the per-browser session state: the captured identity and when it was captured.
// Validity is always derived from ValidatedAt against the wall clock, never stored.
type State struct {
	Identity    Identity
	ValidatedAt time.Time
}

// HasIdentity reports whether an identity has been captured.
func (state State) HasIdentity() bool {
	return state.Identity.Name != "" && state.Identity.Email != ""
}

// NewIdentity validates and normalizes a submitted visitor identity.
func NewIdentity(name string, email string) (Identity, error) {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return Identity{}, ErrInvalidVisitorName
	}

	normalizedEmail := strings.ToLower(strings.TrimSpace(email))
	if emailErr := model.ValidateEmailShape(normalizedEmail); emailErr != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidVisitorEmail, emailErr)
	}

	return Identity{Name: trimmedName, Email: normalizedEmail}, nil
}

// IsCurrentlyValid recomputes validity from the persisted timestamp against the
// given wall-clock time. Callers must invoke this at every read site instead of
// caching the result.
func IsCurrentlyValid(state State, now time.Time) bool {
	if !state.HasIdentity() || state.ValidatedAt.IsZero() {
		return false
	}
	return now.Sub(state.ValidatedAt) < ValidationWindow
}
