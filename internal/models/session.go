package models

import (
	"time"
)

// TokenPair is what the identity provider issues on every successful grant.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // zero when the provider did not say
}

// Session is the authenticated state persisted by the session store.
// The refresh token is single-use: every successful refresh replaces it.
type Session struct {
	User         *User
	AccessToken  string
	RefreshToken string
	RememberMe   bool
}

// IsAuthenticated reports whether the session carries a user and an access token.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.User != nil && s.AccessToken != ""
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	return &c
}
