package store

import (
	"errors"
)

// Sentinel errors for common error conditions
var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrCorrupt         = errors.New("storage corrupt")
	ErrNoSession       = errors.New("no session stored")
	ErrSessionReplaced = errors.New("stored session was replaced")
)

// Keys shared by both storage tiers. Components that only need the tenant
// read KeyCurrentShopID without loading the whole session.
const (
	KeyAuthUser              = "auth_user"
	KeyAuthToken             = "auth_token"
	KeyRefreshToken          = "refresh_token"
	KeyCurrentShopID         = "current_shop_id"
	KeyOAuthError            = "oauth_error"
	KeyOAuthErrorDescription = "oauth_error_description"
)

// sessionKeys are removed from both tiers on Clear.
var sessionKeys = []string{KeyAuthUser, KeyAuthToken, KeyRefreshToken, KeyCurrentShopID}

// KV is a client-side string key-value store. Writes are synchronous: a Get
// following a Set in the same process always observes the Set. There is no
// multi-key transaction.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	// Delete removes keys; missing keys are not an error.
	Delete(keys ...string) error
}

// Tier identifies which storage holds the session.
type Tier int

const (
	TierNone Tier = iota
	// TierDurable survives restarts ("remember me").
	TierDurable
	// TierTab lives as long as the process.
	TierTab
)

func (t Tier) String() string {
	switch t {
	case TierDurable:
		return "durable"
	case TierTab:
		return "tab"
	default:
		return "none"
	}
}
