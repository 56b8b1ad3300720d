package store

import (
	"errors"

	"github.com/rs/zerolog/log"
)

// OAuthError is an error returned by the provider on an OAuth redirect.
type OAuthError struct {
	Code        string
	Description string
}

// OAuthErrors keeps the last OAuth redirect error in durable storage so a
// restart after the redirect still surfaces it, exactly once.
type OAuthErrors struct {
	kv KV
}

func NewOAuthErrors(kv KV) *OAuthErrors {
	return &OAuthErrors{kv: kv}
}

// Put records an error, replacing any previous one.
func (o *OAuthErrors) Put(e OAuthError) error {
	if err := o.kv.Set(KeyOAuthError, e.Code); err != nil {
		return err
	}
	return writeOptional(o.kv, KeyOAuthErrorDescription, e.Description)
}

// Consume returns the recorded error and removes it.
func (o *OAuthErrors) Consume() (*OAuthError, bool) {
	code, err := o.kv.Get(KeyOAuthError)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			log.Warn().Err(err).Msg("failed to read oauth error")
		}
		return nil, false
	}
	desc, _ := o.kv.Get(KeyOAuthErrorDescription)

	if err := o.kv.Delete(KeyOAuthError, KeyOAuthErrorDescription); err != nil {
		log.Warn().Err(err).Msg("failed to clear oauth error")
	}

	return &OAuthError{Code: code, Description: desc}, true
}
