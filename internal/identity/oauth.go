package identity

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

// AuthorizeRequest is a prepared browser redirect to the provider. Verifier
// must be kept until the callback arrives when the provider answers with a
// code rather than tokens.
type AuthorizeRequest struct {
	URL      string
	Verifier string
}

// AuthorizeURL builds the URL that starts an OAuth sign-in with an external
// provider, returning to redirectTo when done.
func (c *Client) AuthorizeURL(provider, redirectTo string) *AuthorizeRequest {
	conf := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.baseURL + "/auth/v1/authorize",
			TokenURL: c.baseURL + "/auth/v1/token?grant_type=pkce",
		},
	}

	verifier := oauth2.GenerateVerifier()
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("provider", strings.ToLower(provider)),
		oauth2.S256ChallengeOption(verifier),
	}
	if redirectTo != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_to", redirectTo))
	}

	return &AuthorizeRequest{
		URL:      conf.AuthCodeURL("", opts...),
		Verifier: verifier,
	}
}

// ErrNoCallbackParams is returned when a redirect carries no OAuth result.
var ErrNoCallbackParams = errors.New("no OAuth parameters in callback")

// callbackKeys are the parameters the provider can attach to a redirect.
var callbackKeys = []string{
	"access_token",
	"refresh_token",
	"expires_in",
	"expires_at",
	"token_type",
	"type",
	"provider_token",
	"provider_refresh_token",
	"code",
	"error",
	"error_code",
	"error_description",
}

// CallbackParams is the OAuth result parsed from a redirect.
type CallbackParams struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	Code             string
	Error            string
	ErrorDescription string
}

// Failed reports whether the provider returned an error.
func (p *CallbackParams) Failed() bool {
	return p.Error != ""
}

// ParseCallback extracts the OAuth result from a redirect. raw may be a
// full URL or a bare query or fragment string. Fragment values take
// precedence over query values.
func ParseCallback(raw string) (*CallbackParams, error) {
	values := url.Values{}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		if q, err := url.ParseQuery(u.RawQuery); err == nil {
			merge(values, q)
		}
		if f, err := url.ParseQuery(u.Fragment); err == nil {
			merge(values, f)
		}
	} else {
		q, err := url.ParseQuery(strings.TrimLeft(raw, "#?"))
		if err != nil {
			return nil, err
		}
		merge(values, q)
	}

	p := &CallbackParams{
		AccessToken:      values.Get("access_token"),
		RefreshToken:     values.Get("refresh_token"),
		Code:             values.Get("code"),
		Error:            values.Get("error"),
		ErrorDescription: values.Get("error_description"),
	}
	if s := values.Get("expires_in"); s != "" {
		p.ExpiresIn, _ = strconv.ParseInt(s, 10, 64)
	}
	if p.Error == "" && values.Get("error_code") != "" {
		p.Error = values.Get("error_code")
	}

	if p.AccessToken == "" && p.Code == "" && p.Error == "" {
		return nil, ErrNoCallbackParams
	}
	return p, nil
}

func merge(dst, src url.Values) {
	for k, v := range src {
		dst[k] = v
	}
}

// StripCallbackParams removes OAuth parameters from a URL's query and
// fragment so tokens do not linger in history or logs.
func StripCallbackParams(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	for _, k := range callbackKeys {
		q.Del(k)
	}
	u.RawQuery = q.Encode()

	if u.Fragment != "" {
		if f, err := url.ParseQuery(u.Fragment); err == nil {
			for _, k := range callbackKeys {
				f.Del(k)
			}
			u.Fragment = f.Encode()
			u.RawFragment = ""
		}
	}
	return u.String()
}
