package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/poltrona/poltrona/internal/auth"
	"github.com/poltrona/poltrona/internal/identity"
	"github.com/poltrona/poltrona/internal/session"
)

// WhoamiCmd shows the stored session.
type WhoamiCmd struct {
	Permissions bool `help:"List the effective permissions"`
}

func (c *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	if oauthErr, ok := a.manager.ConsumeOAuthError(); ok {
		fmt.Fprintf(os.Stderr, "Ultimo accesso OAuth non riuscito: %s %s\n", oauthErr.Code, oauthErr.Description)
	}

	state := a.manager.State()
	if !state.IsAuthenticated() {
		return userError(auth.ErrNotAuthenticated)
	}
	printUser(os.Stdout, state)

	tier := "solo questa esecuzione"
	if state.RememberMe {
		tier = "persistente"
	}
	fmt.Printf("Sessione: %s\n", tier)

	if token, err := a.manager.AccessToken(); err == nil {
		if claims, err := identity.InspectAccessToken(token); err == nil && !claims.ExpiresAt.IsZero() {
			fmt.Printf("Scadenza: %s\n", claims.ExpiresAt.Local().Format(time.RFC3339))
		}
		if identity.ExpiresWithin(token, a.cfg.Session.ActivityWindow, time.Now()) {
			fmt.Println("Il token scade a breve: esegui 'poltrona refresh'.")
		}
	}

	if c.Permissions {
		fmt.Println("Permessi:")
		for _, p := range auth.PermissionsFor(state.User.Role, state.User.IsPlatformAdmin) {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}

// CanCmd checks a permission for the signed-in user.
type CanCmd struct {
	Permission string `arg:"" help:"Permission key (e.g. dashboard, client_booking)"`
}

func (c *CanCmd) Run(ctx context.Context, globals *Globals) error {
	perm := auth.Permission(c.Permission)
	if !slices.Contains(auth.Permissions, perm) {
		return fmt.Errorf("unknown permission %q", c.Permission)
	}

	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	if !a.manager.Can(perm) {
		return fmt.Errorf("%s: non consentito", perm)
	}
	fmt.Printf("%s: consentito\n", perm)
	return nil
}

// RefreshCmd rotates the token pair now.
type RefreshCmd struct{}

func (c *RefreshCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.manager.Refresh(ctx); err != nil {
		return userError(err)
	}
	fmt.Println("Sessione rinnovata.")
	return nil
}

// VerifyCmd probes the access token and reconciles the profile.
type VerifyCmd struct{}

func (c *VerifyCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	validity, err := a.manager.Verify(ctx)
	if err != nil {
		return userError(err)
	}
	fmt.Printf("Token: %s\n", validity)
	printUser(os.Stdout, a.manager.State())
	return nil
}

// WatchCmd keeps the session alive in the foreground. Each line read from
// stdin counts as user activity.
type WatchCmd struct{}

func (c *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	if !a.manager.IsAuthenticated() {
		return userError(auth.ErrNotAuthenticated)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, unsubscribe := a.manager.Subscribe(16)
	defer unsubscribe()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			a.manager.Touch()
		}
	}()

	done := make(chan error, 1)
	go func() { done <- a.manager.Run(ctx) }()

	log.Info().
		Dur("refresh_interval", a.cfg.Session.RefreshInterval).
		Dur("activity_window", a.cfg.Session.ActivityWindow).
		Msg("watching session, press Ctrl-C to stop")

	for {
		select {
		case e := <-events:
			fmt.Printf("%s %s %s\n", e.At.Format(time.RFC3339), e.Type, e.UserID)
			if e.Type == session.EventSessionExpired {
				fmt.Fprintln(os.Stderr, auth.Message(auth.ErrTokenRefreshFailed))
				stop()
				<-done
				return userError(auth.ErrTokenRefreshFailed)
			}
		case err := <-done:
			return err
		}
	}
}
