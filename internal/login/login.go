package login

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"filippo.io/csrf"
	"github.com/rs/zerolog/log"

	"github.com/poltrona/poltrona/internal/identity"
)

// ErrReceiverClosed is returned by Wait after Close.
var ErrReceiverClosed = errors.New("oauth receiver closed")

const donePath = "/done"

// Receiver is a loopback HTTP server that plays the part of the app URL the
// identity provider redirects back to. It hands the raw OAuth result to
// Wait and sends the browser to a clean URL so tokens do not linger there.
type Receiver struct {
	listener     net.Listener
	server       *http.Server
	callbackPath string

	results chan string
	once    sync.Once
	closed  chan struct{}
}

// NewReceiver listens on addr. Use port 0 to pick a free port.
func NewReceiver(addr, callbackPath string) (*Receiver, error) {
	if callbackPath == "" || callbackPath[0] != '/' {
		return nil, fmt.Errorf("callback path must start with /: %q", callbackPath)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	r := &Receiver{
		listener:     ln,
		callbackPath: callbackPath,
		results:      make(chan string, 1),
		closed:       make(chan struct{}),
	}
	r.server = &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return r, nil
}

// RedirectURL is the redirect_to value to hand to the provider.
func (r *Receiver) RedirectURL() string {
	u := url.URL{Scheme: "http", Host: r.listener.Addr().String(), Path: r.callbackPath}
	return u.String()
}

// Handler serves the callback and completion pages. Cross-origin POSTs are
// rejected.
func (r *Receiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+r.callbackPath, r.handleRedirect)
	mux.HandleFunc("POST "+r.callbackPath, r.handleFragment)
	mux.HandleFunc("GET "+donePath, r.handleDone)

	return csrf.New().Handler(mux)
}

// Start serves in the background until Close.
func (r *Receiver) Start() {
	go func() {
		log.Debug().Str("redirect_url", r.RedirectURL()).Msg("OAuth receiver listening")
		if err := r.server.Serve(r.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("OAuth receiver stopped")
		}
	}()
}

// Wait blocks until the provider redirect arrives. The returned string is a
// query ("?code=...") or fragment ("#access_token=...") suitable for
// identity.ParseCallback.
func (r *Receiver) Wait(ctx context.Context) (string, error) {
	select {
	case raw := <-r.results:
		return raw, nil
	case <-r.closed:
		return "", ErrReceiverClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops the server.
func (r *Receiver) Close(ctx context.Context) error {
	r.once.Do(func() { close(r.closed) })

	err := r.server.Shutdown(ctx)
	// Shutdown only closes listeners that Serve was called with.
	if cerr := r.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}

func (r *Receiver) deliver(raw string) bool {
	select {
	case r.results <- raw:
		return true
	default:
		return false
	}
}

// handleRedirect receives the provider redirect. Query parameters reach the
// server directly; a fragment never does, so the page posts it back.
func (r *Receiver) handleRedirect(w http.ResponseWriter, req *http.Request) {
	if req.URL.RawQuery != "" {
		raw := "?" + req.URL.RawQuery
		if _, err := identity.ParseCallback(raw); err != nil {
			http.Error(w, "Parametri di accesso mancanti", http.StatusBadRequest)
			return
		}
		if !r.deliver(raw) {
			log.Debug().Msg("duplicate OAuth redirect ignored")
		}
		log.Debug().Str("url", identity.StripCallbackParams(req.URL.String())).Msg("OAuth redirect received")
		http.Redirect(w, req, donePath, http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	if err := forwardPage.Execute(w, struct{ CallbackPath, DonePath string }{r.callbackPath, donePath}); err != nil {
		log.Error().Err(err).Msg("failed to render OAuth forward page")
	}
}

func (r *Receiver) handleFragment(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		http.Error(w, "Richiesta non valida", http.StatusBadRequest)
		return
	}

	raw := "#" + req.PostForm.Get("fragment")
	if _, err := identity.ParseCallback(raw); err != nil {
		http.Error(w, "Parametri di accesso mancanti", http.StatusBadRequest)
		return
	}
	if !r.deliver(raw) {
		log.Debug().Msg("duplicate OAuth fragment ignored")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Receiver) handleDone(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(donePage))
}

var forwardPage = template.Must(template.New("forward").Parse(`<!doctype html>
<html lang="it">
<head><meta charset="utf-8"><title>Poltrona</title></head>
<body>
<p id="msg">Completamento accesso...</p>
<script>
(function () {
  var fragment = window.location.hash.replace(/^#/, "");
  history.replaceState(null, "", {{.CallbackPath}});
  if (!fragment) {
    document.getElementById("msg").textContent = "Nessun parametro di accesso ricevuto.";
    return;
  }
  fetch({{.CallbackPath}}, {
    method: "POST",
    headers: {"Content-Type": "application/x-www-form-urlencoded"},
    body: "fragment=" + encodeURIComponent(fragment)
  }).then(function () {
    window.location.replace({{.DonePath}});
  });
})();
</script>
</body>
</html>
`))

const donePage = `<!doctype html>
<html lang="it">
<head><meta charset="utf-8"><title>Poltrona</title></head>
<body><p>Accesso completato. Puoi chiudere questa finestra e tornare al terminale.</p></body>
</html>
`
