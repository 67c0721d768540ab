// Package syncer refreshes the stored identity record from the
// identity-resolution endpoint when the cached record is missing, stale
// or belongs to different identifiers.
package syncer

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zarlcorp/connectid/internal/metrics"
	"github.com/zarlcorp/connectid/internal/privacy"
	"github.com/zarlcorp/connectid/internal/state"
	"github.com/zarlcorp/connectid/internal/ups"
)

// DefaultPUIDReuseWindow is how long a cached puid may stand in for one the
// caller did not supply.
const DefaultPUIDReuseWindow = 30 * 24 * time.Hour

// Fetcher performs the endpoint call. *ups.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, pixelID int, params url.Values) (ups.Response, error)
}

// ConsentSource gathers privacy signals. *privacy.Aggregator satisfies it.
type ConsentSource interface {
	PrivacyData(ctx context.Context) (privacy.Snapshot, error)
}

// Params are the inputs of one sync trigger. Identifiers are already hashed.
type Params struct {
	PixelID     int
	HashedEmail string
	HashedPUID  string
	Yahoo1P     *bool
}

// Engine decides whether to sync and performs the sync.
type Engine struct {
	store      *state.Store
	consent    ConsentSource
	fetcher    Fetcher
	pageURL    string
	puidWindow time.Duration
	now        func() time.Time
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithPageURL sets the url parameter sent with every request.
func WithPageURL(u string) Option {
	return func(e *Engine) { e.pageURL = u }
}

// WithPUIDReuseWindow overrides DefaultPUIDReuseWindow.
func WithPUIDReuseWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.puidWindow = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates a sync engine.
func New(store *state.Store, consent ConsentSource, fetcher Fetcher, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		consent:    consent,
		fetcher:    fetcher,
		puidWindow: DefaultPUIDReuseWindow,
		now:        time.Now,
		log:        slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ShouldSync reports whether p warrants a request given the cached record.
// A pixel id and at least one identifier are required. Then either a
// supplied identifier differs from the cached one or the record is stale.
func (e *Engine) ShouldSync(p Params, cached state.Record, now time.Time) bool {
	if p.PixelID == 0 {
		return false
	}

	he, puid := e.resolve(p, cached, now)
	if he == "" && puid == "" {
		return false
	}

	if p.HashedEmail != "" && p.HashedEmail != cached.HashedEmail {
		return true
	}
	if p.HashedPUID != "" && p.HashedPUID != cached.HashedPUID {
		return true
	}
	return cached.IsStale(now)
}

// Sync refreshes the stored record if ShouldSync allows it. The record is
// written whatever the endpoint answers, so a failed request still counts
// as a sync and throttles retries. Sync returns without writing if ctx is
// cancelled first.
func (e *Engine) Sync(ctx context.Context, p Params) {
	now := e.now()
	cached := e.store.Get()

	if !e.ShouldSync(p, cached, now) {
		e.metrics.SyncSuppressed()
		return
	}

	id := ulid.Make().String()
	log := e.log.With("sync", id, "pixel", p.PixelID)

	he, puid := e.resolve(p, cached, now)

	snap, err := e.consent.PrivacyData(ctx)
	if err != nil {
		log.Debug("sync: abort, no consent data", "err", err)
		return
	}

	req := ups.Request{
		HashedEmail: he,
		HashedPUID:  puid,
		GPP:         snap.GPP,
		GPPSID:      snap.GPPSID,
		GDPR:        snap.GDPRApplies,
		GDPRConsent: snap.TCString,
		USPrivacy:   snap.USPString,
		FirstParty:  p.Yahoo1P,
		URL:         e.pageURL,
	}

	e.metrics.SyncAttempt()
	log.Debug("sync: request", "he", he != "", "puid", puid != "")

	resp, err := e.fetcher.Fetch(ctx, p.PixelID, req.Values())
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("sync: cancelled", "err", err)
			return
		}
		e.metrics.SyncFailure()
		log.Warn("sync: request failed", "err", err)
		resp = ups.Response{}
	}

	synced := e.now()
	rec := state.Record{
		HashedEmail: he,
		HashedPUID:  puid,
		ConnectID:   resp.ConnectID,
		TTL:         resp.TTL,
		LastSynced:  state.Millis(synced),
	}
	switch {
	case p.HashedPUID != "":
		rec.LastUsed = state.Millis(synced)
	case puid != "":
		rec.LastUsed = cached.LastUsed
	}

	e.store.Set(rec)
	log.Debug("sync: stored", "connectId", resp.ConnectID != "", "ttl", resp.TTL)
}

// resolve picks the identifiers to send: supplied values win, a cached email
// is always reused, a cached puid only inside the reuse window.
func (e *Engine) resolve(p Params, cached state.Record, now time.Time) (he, puid string) {
	he = p.HashedEmail
	if he == "" {
		he = cached.HashedEmail
	}

	puid = p.HashedPUID
	if puid == "" && e.puidReusable(cached, now) {
		puid = cached.HashedPUID
	}
	return he, puid
}

func (e *Engine) puidReusable(cached state.Record, now time.Time) bool {
	if cached.HashedPUID == "" || cached.LastUsed == 0 {
		return false
	}
	return now.Sub(state.FromMillis(cached.LastUsed)) <= e.puidWindow
}
