package client

import (
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/poltrona/poltrona/internal/logger"
	"github.com/rs/zerolog"
)

// NewHTTPClient creates the client used for every authenticated backend call.
// Responses are never cached: identical URLs return different bodies per token.
func NewHTTPClient(log zerolog.Logger, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: logger.NewBackendRequests(log, http.DefaultTransport),
		Timeout:   timeout,
	}
}

// NewCachingHTTPClient creates an HTTP client with disk-based caching for
// public provider metadata (e.g. /auth/v1/settings) which is served with
// Cache-Control headers.
func NewCachingHTTPClient(log zerolog.Logger, timeout time.Duration, cacheDir string) *http.Client {
	var cache httpcache.Cache
	if cacheDir == "" {
		// Use in-memory cache if no cache directory specified
		cache = httpcache.NewMemoryCache()
	} else {
		// Use disk-based cache for persistence across restarts
		cache = diskcache.New(cacheDir)
	}

	transport := httpcache.NewTransport(cache)
	transport.Transport = logger.NewBackendRequests(log, http.DefaultTransport)

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
