// Package state persists the last known identity record in local storage.
// Reads and writes never fail: unreadable data is treated as an empty
// record and write errors are dropped.
package state

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/zarlcorp/connectid/internal/kv"
)

// Key is the storage key holding the JSON-encoded record.
const Key = "yahoo-connectid"

// MaxTTL is both the default and the upper bound of a record's freshness window.
const MaxTTL = 24 * time.Hour

// Record is the single persisted identity record. Timestamps are epoch
// milliseconds, TTL is in hours. Zero values mean unset.
type Record struct {
	HashedEmail string  `json:"he,omitempty"`
	HashedPUID  string  `json:"puid,omitempty"`
	ConnectID   string  `json:"connectId,omitempty"`
	LastSynced  int64   `json:"lastSynced,omitempty"`
	TTL         float64 `json:"ttl,omitempty"`
	LastUsed    int64   `json:"lastUsed,omitempty"`
}

// Freshness returns the record's TTL as a duration, defaulting to and
// capped at MaxTTL.
func (r Record) Freshness() time.Duration {
	// compared in hours: huge TTLs overflow time.Duration
	if !(r.TTL > 0) || r.TTL >= MaxTTL.Hours() {
		return MaxTTL
	}
	return time.Duration(r.TTL * float64(time.Hour))
}

// IsStale reports whether the record needs a refresh at now.
func (r Record) IsStale(now time.Time) bool {
	if r.LastSynced == 0 {
		return true
	}
	return now.After(FromMillis(r.LastSynced).Add(r.Freshness()))
}

// Empty reports whether nothing is stored.
func (r Record) Empty() bool {
	return r == Record{}
}

// Query identifies whose ConnectID is being asked for.
type Query struct {
	HashedEmail string
	HashedPUID  string
}

// Lookup is the result of a ConnectID query.
type Lookup struct {
	ConnectID string
	Stale     bool
	Found     bool
}

// Store reads and writes the record.
type Store struct {
	storage kv.KV
	log     *slog.Logger
}

// New creates a store over storage. A nil logger discards output.
func New(storage kv.KV, log *slog.Logger) *Store {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Store{storage: storage, log: log}
}

// Get returns the stored record, or an empty one if nothing usable is stored.
func (s *Store) Get() Record {
	raw, err := s.storage.GetItem(Key)
	if err != nil || raw == "" {
		return Record{}
	}

	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		s.log.Debug("state: discard unreadable record", "err", err)
		return Record{}
	}
	return r
}

// Set replaces the stored record with r. Fields the caller wants to keep
// must be carried in r.
func (s *Store) Set(r Record) {
	data, err := json.Marshal(r)
	if err != nil {
		s.log.Debug("state: marshal record", "err", err)
		return
	}

	if err := s.storage.SetItem(Key, string(data)); err != nil {
		s.log.Debug("state: write record", "err", err)
	}
}

// Clear removes the stored record.
func (s *Store) Clear() {
	if err := s.storage.RemoveItem(Key); err != nil {
		s.log.Debug("state: clear record", "err", err)
	}
}

// ConnectID returns the stored ConnectID if the record may be served for q.
func (s *Store) ConnectID(q Query, now time.Time) Lookup {
	r := s.Get()
	if !Matches(r, q) {
		return Lookup{}
	}
	return Lookup{
		ConnectID: r.ConnectID,
		Stale:     r.IsStale(now),
		Found:     true,
	}
}

// Matches applies the three-way match rule: the record is served when no
// identifier is queried, or when for either identifier the queried value
// equals the stored one, or none was queried while one is stored.
func Matches(r Record, q Query) bool {
	if q.HashedEmail == "" && q.HashedPUID == "" {
		return true
	}

	switch {
	case q.HashedEmail != "" && q.HashedEmail == r.HashedEmail:
		return true
	case q.HashedEmail == "" && r.HashedEmail != "":
		return true
	case q.HashedPUID != "" && q.HashedPUID == r.HashedPUID:
		return true
	case q.HashedPUID == "" && r.HashedPUID != "":
		return true
	}
	return false
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts epoch milliseconds to a time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
