package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/poltrona/poltrona/internal/auth"
)

// ErrTokenRejected is returned by GetUser when the provider answers 401/403:
// the access token is definitely invalid, as opposed to unknown.
var ErrTokenRejected = errors.New("access token rejected")

// providerError covers both error body shapes the provider emits.
type providerError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

// detail returns the most descriptive text found in an error body.
func detail(body []byte) string {
	var pe providerError
	if err := json.Unmarshal(body, &pe); err != nil {
		return strings.TrimSpace(string(body))
	}
	parts := make([]string, 0, 3)
	for _, s := range []string{pe.ErrorCode, pe.Error, pe.ErrorDescription, pe.Msg, pe.Message} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return strings.TrimSpace(string(body))
	}
	return strings.Join(parts, ": ")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// transient classifies failures shared by every operation.
func transient(r *response, text string) error {
	switch {
	case r.status == http.StatusTooManyRequests || containsAny(strings.ToLower(text), "rate limit", "too many"):
		return fmt.Errorf("%w: %s", auth.ErrRateLimited, text)
	case r.status >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", auth.ErrBackendUnavailable, r.status, text)
	}
	return nil
}

// classifyLogin maps a failed credential exchange. Unknown email and wrong
// password deliberately collapse into ErrInvalidCredentials.
func classifyLogin(r *response) error {
	text := detail(r.body)
	if err := transient(r, text); err != nil {
		return err
	}
	lower := strings.ToLower(text)
	if containsAny(lower, "email not confirmed", "email_not_confirmed") {
		return fmt.Errorf("%w: %s", auth.ErrEmailUnconfirmed, text)
	}
	return fmt.Errorf("%w: %s", auth.ErrInvalidCredentials, text)
}

// classifyRefresh maps a failed refresh grant. Any non-transient rejection
// is terminal for the session.
func classifyRefresh(r *response) error {
	text := detail(r.body)
	if err := transient(r, text); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", auth.ErrTokenRefreshFailed, text)
}

func classifySignup(r *response) error {
	text := detail(r.body)
	if err := transient(r, text); err != nil {
		return err
	}
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "already registered", "already exists", "user_already_exists", "email_exists"):
		return fmt.Errorf("%w: %s", auth.ErrUserAlreadyRegistered, text)
	case containsAny(lower, "weak_password", "weak password") ||
		(strings.Contains(lower, "password") && containsAny(lower, "at least", "too short", "characters")):
		return fmt.Errorf("%w: %s", auth.ErrWeakPassword, text)
	}
	return fmt.Errorf("signup failed: HTTP %d: %s", r.status, text)
}

func classifyVerify(r *response) error {
	text := detail(r.body)
	if err := transient(r, text); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", auth.ErrInvalidRecoveryToken, text)
}

func classifyUser(r *response) error {
	text := detail(r.body)
	if r.status == http.StatusUnauthorized || r.status == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrTokenRejected, text)
	}
	if err := transient(r, text); err != nil {
		return err
	}
	return fmt.Errorf("%w: HTTP %d: %s", auth.ErrBackendUnavailable, r.status, text)
}

func classifyGeneric(op string, r *response) error {
	text := detail(r.body)
	if err := transient(r, text); err != nil {
		return err
	}
	if r.status == http.StatusUnauthorized || r.status == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrTokenRejected, text)
	}
	lower := strings.ToLower(text)
	if containsAny(lower, "weak_password", "same_password") || (strings.Contains(lower, "password") && strings.Contains(lower, "at least")) {
		return fmt.Errorf("%w: %s", auth.ErrWeakPassword, text)
	}
	return fmt.Errorf("%s failed: HTTP %d: %s", op, r.status, text)
}
