// Package privacy collects consent signals from the GPP, TCF and USP
// consent management APIs and checks local opt-out flags.
package privacy

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/zarlcorp/connectid/internal/kv"
)

// local opt-out flags
const (
	OptOutKey       = "connectIdOptOut"
	PrebidOptOutKey = "_pbjs_id_optout"
	PubCIDOptOutKey = "_pubcid_optout"
)

const defaultGPPSID = "-1"

// GPPPingData is the pingData section of a GPP event.
type GPPPingData struct {
	CMPStatus          string
	SignalStatus       string
	GPPString          string
	ApplicableSections []int
}

// GPPEvent is delivered by a GPP addEventListener callback.
type GPPEvent struct {
	PingData GPPPingData
}

// TCData is delivered by a TCF v2 addEventListener callback.
type TCData struct {
	CMPStatus   string
	EventStatus string
	GDPRApplies *bool
	TCString    string
}

// USPData is delivered by a USP getUSPData callback.
type USPData struct {
	USPString string
}

// GPP is the Global Privacy Platform API (__gpp).
type GPP interface {
	AddEventListener(cb func(ev GPPEvent, success bool))
}

// TCF is the Transparency & Consent Framework v2 API (__tcfapi).
type TCF interface {
	AddEventListener(version int, cb func(data TCData, success bool))
}

// USP is the US Privacy API (__uspapi).
type USP interface {
	GetUSPData(cb func(data USPData, success bool))
}

// Snapshot is the merged consent state for one sync attempt.
type Snapshot struct {
	GPP         string
	GPPSID      string
	USPString   string
	GDPRApplies *bool
	TCString    string
}

// Providers holds the consent APIs present on the host. Any may be nil.
type Providers struct {
	GPP GPP
	TCF TCF
	USP USP
}

// Aggregator gathers consent signals and reads local opt-out flags.
type Aggregator struct {
	providers Providers
	storage   kv.KV
	log       *slog.Logger
}

// New creates an aggregator. A nil logger discards output.
func New(p Providers, storage kv.KV, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Aggregator{providers: p, storage: storage, log: log}
}

// PrivacyData queries GPP, TCF and USP in turn and merges what they report.
// Absent or failing APIs contribute nothing. There is no internal timeout:
// a provider that never answers blocks until ctx is done.
func (a *Aggregator) PrivacyData(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{GPPSID: defaultGPPSID}

	gpp, ok, err := a.gppData(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if ok {
		snap.GPP = gpp.PingData.GPPString
		if sid := joinSections(gpp.PingData.ApplicableSections); sid != "" {
			snap.GPPSID = sid
		}
	}

	tcf, ok, err := a.tcfData(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if ok {
		snap.GDPRApplies = tcf.GDPRApplies
		snap.TCString = tcf.TCString
	}

	usp, ok, err := a.uspData(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if ok {
		snap.USPString = usp.USPString
	}

	return snap, nil
}

func (a *Aggregator) gppData(ctx context.Context) (GPPEvent, bool, error) {
	if a.providers.GPP == nil {
		return GPPEvent{}, false, nil
	}

	r := newReply[GPPEvent]()
	a.providers.GPP.AddEventListener(func(ev GPPEvent, success bool) {
		switch {
		case !success || ev.PingData.CMPStatus == "error":
			r.send(GPPEvent{}, false)
		case ev.PingData.SignalStatus == "ready":
			r.send(ev, true)
		}
	})

	ev, ok, err := r.wait(ctx)
	if err == nil && !ok {
		a.log.Debug("gpp: no signal")
	}
	return ev, ok, err
}

func (a *Aggregator) tcfData(ctx context.Context) (TCData, bool, error) {
	if a.providers.TCF == nil {
		return TCData{}, false, nil
	}

	r := newReply[TCData]()
	a.providers.TCF.AddEventListener(2, func(data TCData, success bool) {
		switch {
		case !success || data.CMPStatus == "error":
			r.send(TCData{}, false)
		case data.EventStatus == "tcloaded" || data.EventStatus == "useractioncomplete":
			r.send(data, true)
		}
	})

	data, ok, err := r.wait(ctx)
	if err == nil && !ok {
		a.log.Debug("tcf: no signal")
	}
	return data, ok, err
}

func (a *Aggregator) uspData(ctx context.Context) (USPData, bool, error) {
	if a.providers.USP == nil {
		return USPData{}, false, nil
	}

	r := newReply[USPData]()
	a.providers.USP.GetUSPData(func(data USPData, success bool) {
		if !success {
			r.send(USPData{}, false)
			return
		}
		r.send(data, true)
	})

	data, ok, err := r.wait(ctx)
	if err == nil && !ok {
		a.log.Debug("usp: no signal")
	}
	return data, ok, err
}

// IsLocallyOptedOut reports whether any local opt-out flag is set.
// Storage failures count as not opted out.
func (a *Aggregator) IsLocallyOptedOut() bool {
	if a.storage == nil {
		return false
	}

	if v, err := a.storage.GetItem(OptOutKey); err == nil && v == "1" {
		return true
	}
	for _, k := range []string{PrebidOptOutKey, PubCIDOptOutKey} {
		if v, err := a.storage.GetItem(k); err == nil && v != "" {
			return true
		}
	}
	return false
}

// OptOut sets the local opt-out flag.
func (a *Aggregator) OptOut() error {
	return a.storage.SetItem(OptOutKey, "1")
}

// OptIn removes the local opt-out flag. Cooperative flags owned by other
// identity frameworks are left alone.
func (a *Aggregator) OptIn() error {
	return a.storage.RemoveItem(OptOutKey)
}

func joinSections(sections []int) string {
	if len(sections) == 0 {
		return ""
	}
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, ",")
}

// reply holds the first answer from a callback-style API. Later answers are
// dropped: event listeners may fire many times.
type reply[T any] struct {
	once sync.Once
	ch   chan result[T]
}

type result[T any] struct {
	v  T
	ok bool
}

func newReply[T any]() *reply[T] {
	return &reply[T]{ch: make(chan result[T], 1)}
}

func (r *reply[T]) send(v T, ok bool) {
	r.once.Do(func() {
		r.ch <- result[T]{v: v, ok: ok}
	})
}

func (r *reply[T]) wait(ctx context.Context) (T, bool, error) {
	select {
	case res := <-r.ch:
		return res.v, res.ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}
