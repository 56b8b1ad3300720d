package session

import (
	"github.com/poltrona/poltrona/internal/auth"
	"github.com/poltrona/poltrona/internal/models"
)

// State is the token lifecycle state.
type State int

const (
	StateUnauthenticated State = iota
	StateValid
	StateRefreshing
	StateRefreshFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateValid:
		return "valid"
	case StateRefreshing:
		return "expired-refreshing"
	case StateRefreshFailed:
		return "expired-failed"
	default:
		return "unknown"
	}
}

// Validity is the outcome of a token probe.
type Validity int

const (
	// ValidityUnknown means the probe could not reach a verdict, e.g. on a
	// network failure. The session is left alone.
	ValidityUnknown Validity = iota
	ValidityValid
	ValidityInvalid
)

func (v Validity) String() string {
	switch v {
	case ValidityValid:
		return "valid"
	case ValidityInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// AuthState is a point-in-time snapshot of the session.
type AuthState struct {
	User       *models.User
	State      State
	RememberMe bool
}

// IsAuthenticated reports whether a user is signed in. A session that is
// being refreshed is still authenticated.
func (a AuthState) IsAuthenticated() bool {
	return a.User != nil && (a.State == StateValid || a.State == StateRefreshing)
}

// Can evaluates a permission for the signed-in user.
func (a AuthState) Can(perm auth.Permission) bool {
	if !a.IsAuthenticated() {
		return false
	}
	return auth.UserCan(a.User, perm)
}
