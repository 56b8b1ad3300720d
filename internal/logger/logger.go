package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

var _ http.RoundTripper = (*BackendRequests)(nil)

// BackendRequests logs every call made to the backend. Only the path is
// logged: query strings and bodies can carry tokens.
type BackendRequests struct {
	logger zerolog.Logger
	next   http.RoundTripper
}

func NewBackendRequests(logger zerolog.Logger, next http.RoundTripper) *BackendRequests {
	if next == nil {
		next = http.DefaultTransport
	}
	return &BackendRequests{logger: logger, next: next}
}

func (b *BackendRequests) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()

	requestID := req.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
		req = req.Clone(req.Context())
		req.Header.Set("X-Request-Id", requestID)
	}

	l := b.logger.With().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("request_id", requestID).
		Logger()

	resp, err := b.next.RoundTrip(req)
	if err != nil {
		l.Error().
			Err(err).
			Dur("duration", time.Since(started)).
			Msg("backend call")

		return resp, err
	}

	l.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("backend call")

	return resp, nil
}
