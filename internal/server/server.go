// Package server exposes the resolver over a local HTTP API so pages and
// tools on the same machine can ask for a ConnectID.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/zarlcorp/connectid/internal/connectid"
	"github.com/zarlcorp/connectid/internal/metrics"
	"github.com/zarlcorp/connectid/internal/state"
)

// Resolver is the part of *connectid.Client the API serves.
type Resolver interface {
	GetIDs(ctx context.Context, p connectid.Params) connectid.Result
	Record() state.Record
	OptOut() error
	OptIn() error
	OptedOut() bool
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

type handler struct {
	res Resolver
	log *slog.Logger
}

// NewRouter builds the API router. The rate limiter's cleanup stops when
// ctx is done.
func NewRouter(ctx context.Context, res Resolver, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h := &handler{res: res, log: log}

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())

	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(opts.RateLimit)
	if opts.RateLimit <= 0 {
		limit = rate.Inf
	}
	rl := NewRateLimiter(ctx, limit, burst)

	r.Group(func(r chi.Router) {
		r.Use(rl.Limit)
		r.Get("/ids", h.getIDs)
		r.Post("/ids", h.postIDs)
		r.Get("/record", h.record)
		r.Get("/optout", h.optOutStatus)
		r.Post("/optout", h.optOut)
		r.Post("/optin", h.optIn)
	})

	return r
}

func (h *handler) getIDs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	p := connectid.Params{
		Email: q.Get("email"),
		PUID:  q.Get("puid"),
	}

	if s := q.Get("pixelId"); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "pixelId must be an integer")
			return
		}
		p.PixelID = id
	}

	if s := q.Get("yahoo1p"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "yahoo1p must be a boolean")
			return
		}
		p.Yahoo1P = &b
	}

	writeJSON(w, http.StatusOK, h.res.GetIDs(r.Context(), p))
}

func (h *handler) postIDs(w http.ResponseWriter, r *http.Request) {
	var p connectid.Params
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&p); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	writeJSON(w, http.StatusOK, h.res.GetIDs(r.Context(), p))
}

func (h *handler) record(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.res.Record())
}

func (h *handler) optOutStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"optedOut": h.res.OptedOut()})
}

func (h *handler) optOut(w http.ResponseWriter, _ *http.Request) {
	if err := h.res.OptOut(); err != nil {
		h.log.Error("opt out", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "opt out failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"optedOut": true})
}

func (h *handler) optIn(w http.ResponseWriter, _ *http.Request) {
	if err := h.res.OptIn(); err != nil {
		h.log.Error("opt in", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "opt in failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"optedOut": h.res.OptedOut()})
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON-encoded error response with the correct Content-Type.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
