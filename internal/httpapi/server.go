// Package httpapi exposes the build engine over HTTP: ticket listing, build
// triggering with single-flight semantics, and a live SSE event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/buildloop-io/buildloop/internal/agent"
	"github.com/buildloop-io/buildloop/internal/engine"
	"github.com/buildloop-io/buildloop/internal/notify"
	"github.com/buildloop-io/buildloop/internal/otel"
	"github.com/buildloop-io/buildloop/internal/sorter"
	"github.com/buildloop-io/buildloop/internal/store"
	"github.com/buildloop-io/buildloop/internal/store/postgres"
	"github.com/buildloop-io/buildloop/internal/store/sqlite"
	"github.com/buildloop-io/buildloop/pkg/models"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read
// more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (dashboard on a different origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Addr      string
	Workspace string
	Dev       bool
	APIKey    string // if set, require X-API-Key header or query api_key

	// Store selection. StoreDriver is "json" (default), "sqlite" or
	// "postgres"; StorePath is the ticket file or database path, DBURL the
	// postgres connection string (or set DATABASE_URL).
	StoreDriver string
	StorePath   string
	DBURL       string
	// Store, if non-nil, overrides driver selection entirely.
	Store store.Store

	Collab         agent.Collaborators
	Notifier       notify.Notifier
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
}

// App holds the HTTP server, SSE hub, store, and the single-flight build state.
type App struct {
	Server   *http.Server
	Hub      *SSEHub
	Store    store.Store
	Notifier notify.Notifier

	engine    *engine.Engine
	workspace string

	mu       sync.Mutex
	building bool
	cancel   context.CancelFunc
	last     *engine.BuildComplete
}

func openStore(opts ServerOptions) (store.Store, error) {
	if opts.Store != nil {
		return opts.Store, nil
	}
	switch opts.StoreDriver {
	case "", "json":
		return store.Open(opts.StorePath)
	case "sqlite":
		return sqlite.Open(opts.StorePath)
	case "postgres":
		return postgres.Open(opts.DBURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.StoreDriver)
	}
}

// NewApp creates the HTTP app (server, hub, store) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	st, err := openStore(opts)
	if err != nil {
		return nil, err
	}

	app := &App{
		Hub:       NewSSEHub(),
		Store:     st,
		Notifier:  opts.Notifier,
		engine:    engine.New(opts.Collab),
		workspace: opts.Workspace,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("/metrics", app.handlePlainMetrics)
	}

	mux.HandleFunc("/tickets", app.handleTickets)
	mux.HandleFunc("/tickets/reset", app.handleReset)
	mux.HandleFunc("/build", app.handleBuild)
	mux.HandleFunc("/events", app.Hub.Handler())

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "buildloop")
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // SSE streams stay open indefinitely
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		app.mu.Lock()
		if app.cancel != nil {
			app.cancel()
		}
		app.mu.Unlock()
		_ = st.Close()
	})
	app.Server = srv
	return app, nil
}

// handleTickets serves the current ticket list.
func (a *App) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	f, err := a.Store.Load(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(f.Tickets) > models.DefaultTicketListLimit {
		f.Tickets = f.Tickets[:models.DefaultTicketListLimit]
	}
	writeJSON(w, f)
}

// handleReset sets every ticket back to todo.
func (a *App) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := a.Store.ResetAll(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.Hub.Publish([]byte(`{"type":"tickets_reset"}`))
	writeJSON(w, map[string]any{"ok": true})
}

// handleBuild starts a run (POST, single-flight) or reports run state (GET).
func (a *App) handleBuild(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.mu.Lock()
		resp := map[string]any{"building": a.building}
		if a.last != nil {
			resp["lastBuild"] = *a.last
		}
		a.mu.Unlock()
		writeJSON(w, resp)
	case http.MethodPost:
		var body struct {
			Review bool `json:"review"`
			Test   bool `json:"test"`
		}
		// An empty body means default options.
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		n, err := a.startBuild(engine.Options{
			Workspace: a.workspace,
			Review:    body.Review,
			Test:      body.Test,
			RunID:     time.Now().UTC().Format("20060102-150405"),
		})
		if err == errBuildInProgress {
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]any{"started": true, "tickets": n})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

var errBuildInProgress = fmt.Errorf("a build is already in progress")

// startBuild loads pending tickets, sorts them, and starts the engine in the
// background. Events fan out to the SSE hub; ticket outcomes are persisted as
// they complete. Only one build runs at a time.
func (a *App) startBuild(opts engine.Options) (int, error) {
	a.mu.Lock()
	if a.building {
		a.mu.Unlock()
		return 0, errBuildInProgress
	}
	a.building = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	pending, err := a.Store.Pending(ctx)
	if err == nil {
		pending = sorter.Sort(pending)
		var events <-chan engine.Event
		events, err = a.engine.Process(ctx, pending, opts)
		if err == nil {
			a.mu.Lock()
			a.cancel = cancel
			a.mu.Unlock()
			go a.consume(ctx, events)
			return len(pending), nil
		}
	}
	cancel()
	a.mu.Lock()
	a.building = false
	a.mu.Unlock()
	return 0, err
}

// consume drains one build's event stream: publish to SSE, persist ticket
// outcomes, notify on completion.
func (a *App) consume(ctx context.Context, events <-chan engine.Event) {
	defer func() {
		a.mu.Lock()
		a.building = false
		if a.cancel != nil {
			a.cancel()
			a.cancel = nil
		}
		a.mu.Unlock()
	}()

	started := map[string]time.Time{}
	for ev := range events {
		if b, err := engine.MarshalEvent(ev); err == nil {
			a.Hub.Publish(b)
		}
		switch v := ev.(type) {
		case engine.TicketStart:
			started[v.Ticket.ID] = time.Now()
			if err := a.Store.UpdateStatus(ctx, v.Ticket.ID, models.StatusInProgress, ""); err != nil {
				slog.Warn("update ticket status", "ticket", v.Ticket.ID, "err", err)
			}
		case engine.TicketComplete:
			if err := a.Store.UpdateStatus(ctx, v.Ticket.ID, v.Ticket.Status, v.Error); err != nil {
				slog.Warn("update ticket status", "ticket", v.Ticket.ID, "err", err)
			}
			otel.RecordTicket(ctx, sorter.PhaseName(v.Ticket), v.Ticket.Status, v.TokensUsed, v.Cost, time.Since(started[v.Ticket.ID]))
			otel.RecordRetries(ctx, v.Attempts)
		case engine.BuildComplete:
			a.mu.Lock()
			bc := v
			a.last = &bc
			a.mu.Unlock()
			if a.Notifier != nil {
				if err := a.Notifier.Notify(context.Background(), notify.BuildSummary(v)); err != nil {
					slog.Warn("notify", "err", err)
				}
			}
		}
	}
}

// handlePlainMetrics is the fallback /metrics when no OTel handler was
// provided: a single per-status ticket gauge read from the store.
func (a *App) handlePlainMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	f, err := a.Store.Load(r.Context())
	if err != nil {
		return
	}
	counts := map[string]int{}
	for _, tk := range f.Tickets {
		counts[tk.Status]++
	}
	_, _ = fmt.Fprintf(w, "# TYPE buildloop_tickets_total gauge\n")
	for _, s := range []string{models.StatusTodo, models.StatusInProgress, models.StatusDone, models.StatusError} {
		_, _ = fmt.Fprintf(w, "buildloop_tickets_total{status=%q} %d\n", s, counts[s])
	}
}

// responseRecorder captures status code for logging and forwards Flusher if
// supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
