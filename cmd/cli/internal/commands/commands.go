package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/poltrona/poltrona/internal/auth"
	"github.com/poltrona/poltrona/internal/client"
	"github.com/poltrona/poltrona/internal/config"
	"github.com/poltrona/poltrona/internal/identity"
	"github.com/poltrona/poltrona/internal/logger"
	"github.com/poltrona/poltrona/internal/profile"
	"github.com/poltrona/poltrona/internal/session"
	"github.com/poltrona/poltrona/internal/store"
	"github.com/poltrona/poltrona/internal/store/file"
	"github.com/poltrona/poltrona/internal/store/memory"
	"github.com/poltrona/poltrona/internal/telemetry"
)

type Globals struct {
	Debug   bool
	Version string
	Config  string
}

// app is everything a command needs, wired from configuration.
type app struct {
	cfg      *config.Config
	identity *identity.Client
	manager  *session.Manager
	sessions *store.SessionStore
	shutdown func(context.Context) error
}

func newApp(ctx context.Context, globals *Globals) (*app, error) {
	zl := logger.Setup(globals.Debug)
	log.Logger = zl

	path := globals.Config
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	shutdown := func(context.Context) error { return nil }
	if cfg.Telemetry.Enabled {
		shutdown, err = telemetry.InitTelemetry(ctx, cfg.Telemetry.ServiceName, globals.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	cacheDir := cfg.Backend.CacheDir
	if cacheDir == "" && cfg.Storage.Dir != "" {
		cacheDir = filepath.Join(cfg.Storage.Dir, "cache")
	}
	httpClient := client.NewHTTPClient(zl, cfg.Backend.HTTPTimeout)
	metadataClient := client.NewCachingHTTPClient(zl, cfg.Backend.HTTPTimeout, cacheDir)

	ic, err := identity.NewClient(cfg.Backend.URL, cfg.Backend.AnonKey,
		identity.WithHTTPClient(httpClient),
		identity.WithMetadataClient(metadataClient),
	)
	if err != nil {
		return nil, err
	}
	profiles := profile.NewClient(cfg.Backend.URL, cfg.Backend.AnonKey, httpClient)

	durable, err := file.NewKV(cfg.Storage.Dir, cfg.Backend.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}
	sessions := store.NewSessionStore(durable, memory.NewKV())

	manager := session.NewManager(cfg.Session, ic, profile.NewReconciler(profiles), sessions,
		session.WithOAuthErrors(store.NewOAuthErrors(durable)),
	)
	manager.Bootstrap()

	log.Debug().Str("config", path).Str("storage", durable.Path()).Msg("poltrona ready")

	return &app{
		cfg:      cfg,
		identity: ic,
		manager:  manager,
		sessions: sessions,
		shutdown: shutdown,
	}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}

// displayError carries the localized text of an auth failure while keeping
// the original error for logs.
type displayError struct {
	msg string
	err error
}

func (e *displayError) Error() string { return e.msg }
func (e *displayError) Unwrap() error { return e.err }

func userError(err error) error {
	if err == nil {
		return nil
	}
	var de *displayError
	if errors.As(err, &de) {
		return err
	}
	log.Debug().Err(err).Msg("operation failed")
	return &displayError{msg: auth.Message(err), err: err}
}

func rememberOptions(noRemember bool) []session.LoginOption {
	if noRemember {
		return []session.LoginOption{session.WithRememberMe(false)}
	}
	return nil
}

// readSecret returns value, or prompts for it on stdin.
func readSecret(value, prompt string, in io.Reader) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("a value is required")
	}
	return line, nil
}

func printUser(w io.Writer, state session.AuthState) {
	u := state.User
	if u == nil {
		fmt.Fprintln(w, "Non autenticato.")
		return
	}
	shop := u.ShopIDValue()
	if shop == "" {
		shop = "(nessuno)"
	}
	fmt.Fprintf(w, "Utente:   %s (%s)\n", u.Email, u.ID)
	if u.FullName != "" {
		fmt.Fprintf(w, "Nome:     %s\n", u.FullName)
	}
	fmt.Fprintf(w, "Ruolo:    %s\n", u.Role)
	if u.IsPlatformAdmin {
		fmt.Fprintln(w, "          amministratore di piattaforma")
	}
	fmt.Fprintf(w, "Negozio:  %s\n", shop)
	fmt.Fprintf(w, "Stato:    %s\n", state.State)
}
