package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/poltrona/poltrona/internal/login"
	"github.com/poltrona/poltrona/internal/models"
	"github.com/poltrona/poltrona/internal/session"
)

// LoginCmd signs in with email and password.
type LoginCmd struct {
	Email      string `arg:"" help:"Account email"`
	Password   string `help:"Password (prompted when omitted)" env:"POLTRONA_PASSWORD"`
	NoRemember bool   `help:"Do not keep the session after this command exits"`
}

func (c *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	password, err := readSecret(c.Password, "Password: ", os.Stdin)
	if err != nil {
		return err
	}

	state, err := a.manager.Login(ctx, c.Email, password, rememberOptions(c.NoRemember)...)
	if err != nil {
		return userError(err)
	}

	fmt.Println("Accesso effettuato.")
	printUser(os.Stdout, state)
	return nil
}

// OAuthCmd signs in through an external provider using a loopback redirect.
type OAuthCmd struct {
	Provider   string        `help:"OAuth provider (default from config)"`
	Timeout    time.Duration `help:"How long to wait for the browser" default:"5m"`
	NoRemember bool          `help:"Do not keep the session after this command exits"`
}

func (c *OAuthCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	if pending, ok := a.manager.ConsumeOAuthError(); ok {
		log.Debug().Str("code", pending.Code).Msg("discarding previous oauth error")
	}

	provider := c.Provider
	if provider == "" {
		provider = a.cfg.OAuth.Provider
	}

	settings, err := a.identity.Settings(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not read provider settings")
	} else if !settings.ProviderEnabled(provider) {
		return fmt.Errorf("provider %q is not enabled for this project", provider)
	}

	receiver, err := login.NewReceiver(a.cfg.OAuth.ListenAddr, a.cfg.OAuth.CallbackPath)
	if err != nil {
		return err
	}
	receiver.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = receiver.Close(shutdownCtx)
	}()

	authz := a.identity.AuthorizeURL(provider, receiver.RedirectURL())
	fmt.Println("Apri questo indirizzo nel browser per accedere:")
	fmt.Println()
	fmt.Println("  " + authz.URL)
	fmt.Println()

	waitCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	raw, err := receiver.Wait(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New("timed out waiting for the browser")
		}
		return err
	}

	state, err := a.manager.LoginWithOAuthCallback(ctx, raw, authz.Verifier, rememberOptions(c.NoRemember)...)
	if err != nil {
		if oauthErr, ok := a.manager.ConsumeOAuthError(); ok && oauthErr.Description != "" {
			fmt.Fprintln(os.Stderr, oauthErr.Description)
		}
		return userError(err)
	}

	fmt.Println("Accesso effettuato.")
	printUser(os.Stdout, state)
	return nil
}

// RegisterCmd creates a new client account.
type RegisterCmd struct {
	Email      string `arg:"" help:"Account email"`
	Password   string `help:"Password (prompted when omitted)" env:"POLTRONA_PASSWORD"`
	FullName   string `help:"Full name" required:""`
	Phone      string `help:"Phone number"`
	ShopSlug   string `help:"Slug of the shop to join"`
	Role       string `help:"Requested role; self-registration always starts as client" hidden:""`
	NoRemember bool   `help:"Do not keep the session after this command exits"`
}

func (c *RegisterCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	password, err := readSecret(c.Password, "Password: ", os.Stdin)
	if err != nil {
		return err
	}

	reg, err := a.manager.Register(ctx, session.RegistrationData{
		Email:    c.Email,
		Password: password,
		FullName: c.FullName,
		Phone:    c.Phone,
		ShopSlug: c.ShopSlug,
		Role:     models.Role(c.Role),
	}, rememberOptions(c.NoRemember)...)
	if err != nil {
		return userError(err)
	}

	if !reg.SignedIn {
		fmt.Println("Registrazione completata. Controlla la tua email per confermare l'account.")
		return nil
	}

	fmt.Println("Registrazione completata.")
	printUser(os.Stdout, a.manager.State())
	return nil
}

// LogoutCmd clears the stored session.
type LogoutCmd struct{}

func (c *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.manager.Logout(ctx); err != nil {
		return userError(err)
	}
	fmt.Println("Disconnesso.")
	return nil
}
