// Package connectid resolves a ConnectID for a user from locally cached
// state while keeping that state in sync with the identity-resolution
// endpoint in the background.
package connectid

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zarlcorp/connectid/internal/hasher"
	"github.com/zarlcorp/connectid/internal/kv"
	"github.com/zarlcorp/connectid/internal/metrics"
	"github.com/zarlcorp/connectid/internal/privacy"
	"github.com/zarlcorp/connectid/internal/state"
	"github.com/zarlcorp/connectid/internal/syncer"
)

// Params identify the user. Email and PUID may be raw or already
// SHA-256 hex digests.
type Params struct {
	PixelID int    `json:"pixelId"`
	Email   string `json:"email,omitempty"`
	PUID    string `json:"puid,omitempty"`
	Yahoo1P *bool  `json:"yahoo1p,omitempty"`
}

// Result is what GetIDs answers. An empty ConnectID means none is known.
type Result struct {
	ConnectID string `json:"connectId,omitempty"`
}

// Config wires a Client. Storage and Fetcher are required.
type Config struct {
	Storage   kv.KV
	Fetcher   syncer.Fetcher
	Providers privacy.Providers

	// Hasher defaults to SHA-256.
	Hasher *hasher.Hasher

	PageURL         string
	PUIDReuseWindow time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Client answers GetIDs calls. Background syncs are bound to the client's
// lifetime, not to the caller's context.
type Client struct {
	store   *state.Store
	privacy *privacy.Aggregator
	engine  *syncer.Engine
	hasher  *hasher.Hasher
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a client.
func New(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	h := cfg.Hasher
	if h == nil {
		h = hasher.New(hasher.SHA256)
	}

	store := state.New(cfg.Storage, log)
	agg := privacy.New(cfg.Providers, cfg.Storage, log)
	engine := syncer.New(store, agg, cfg.Fetcher,
		syncer.WithPageURL(cfg.PageURL),
		syncer.WithPUIDReuseWindow(cfg.PUIDReuseWindow),
		syncer.WithClock(now),
		syncer.WithLogger(log),
		syncer.WithMetrics(cfg.Metrics),
	)

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		store:   store,
		privacy: agg,
		engine:  engine,
		hasher:  h,
		log:     log,
		metrics: cfg.Metrics,
		now:     now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// GetIDs returns the cached ConnectID for p, if the stored record matches,
// and starts a background sync when the record needs refreshing. The
// result only reflects state present before the call. GetIDs never fails;
// anything that goes wrong yields an empty Result.
func (c *Client) GetIDs(ctx context.Context, p Params) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("get ids: recovered", "panic", r)
			res = Result{}
		}
	}()

	if c.privacy.IsLocallyOptedOut() {
		c.store.Clear()
		c.metrics.Resolution(metrics.ResultOptOut)
		return Result{}
	}

	he, puid := c.hasher.HashAll(ctx, p.Email, p.PUID)

	lookup := c.store.ConnectID(state.Query{HashedEmail: he, HashedPUID: puid}, c.now())

	c.startSync(syncer.Params{
		PixelID:     p.PixelID,
		HashedEmail: he,
		HashedPUID:  puid,
		Yahoo1P:     p.Yahoo1P,
	})

	if lookup.ConnectID == "" {
		c.metrics.Resolution(metrics.ResultMiss)
		return Result{}
	}
	c.metrics.Resolution(metrics.ResultHit)
	return Result{ConnectID: lookup.ConnectID}
}

func (c *Client) startSync(p syncer.Params) {
	if c.ctx.Err() != nil {
		return
	}

	c.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("sync: recovered", "panic", r)
			}
		}()
		c.engine.Sync(c.ctx, p)
	})
}

// Record returns the stored identity record.
func (c *Client) Record() state.Record {
	return c.store.Get()
}

// Reset removes the stored identity record.
func (c *Client) Reset() {
	c.store.Clear()
}

// OptOut sets the local opt-out flag and removes the stored record.
func (c *Client) OptOut() error {
	if err := c.privacy.OptOut(); err != nil {
		return err
	}
	c.store.Clear()
	return nil
}

// OptIn removes the local opt-out flag.
func (c *Client) OptIn() error {
	return c.privacy.OptIn()
}

// OptedOut reports whether any local opt-out flag is set.
func (c *Client) OptedOut() bool {
	return c.privacy.IsLocallyOptedOut()
}

// Wait blocks until all background syncs started so far have finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight syncs and waits for them to return. GetIDs still
// answers from the cache after Close but no longer syncs.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}
