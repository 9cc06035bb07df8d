// Package jsonstore implements frontier.Store as a single JSON blob
// persisted through the platform.Storage collaborator — the default
// backend, selected whenever frontierEnableSqlite is false.
package jsonstore

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/CdubVentures/spec-harvester-sub001/internal/frontier"
	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
	"github.com/CdubVentures/spec-harvester-sub001/internal/platform"
)

const stateKey = "frontier/state.json"

// mutation is a request enqueued onto the single writer lane.
type mutation struct {
	apply func(*wireState)
	done  chan error
}

// wireState mirrors the frontier package's unexported persisted
// shape; duplicated here because Store needs to (de)serialize it
// without the frontier package exporting its internals.
type wireState struct {
	Queries map[string]wireQuery `json:"queries"`
	URLs    map[string]wireURL   `json:"urls"`
}

type wireQuery struct {
	LastSeenAt time.Time `json:"last_seen_at"`
}

type wireURL struct {
	LastStatus  int       `json:"last_status"`
	LastFetchAt time.Time `json:"last_fetch_at"`
	NotBefore   time.Time `json:"not_before"`
	RepeatCount int       `json:"repeat_count"`
	FieldsFound int       `json:"fields_found"`
}

func newWireState() *wireState {
	return &wireState{Queries: map[string]wireQuery{}, URLs: map[string]wireURL{}}
}

// Store serializes every mutation through a single goroutine reading
// off a buffered channel, the same single-writer-lane shape the
// Evidence Index uses for its sqlite connection — here applied to an
// in-memory map backed by one JSON blob instead of a database file.
type Store struct {
	cfg       frontier.Config
	storage   platform.Storage
	mutations chan mutation
	stop      chan struct{}
	state     *wireState
}

// New loads (or initializes) the frontier state from storage and
// starts its writer-lane goroutine.
func New(ctx context.Context, cfg frontier.Config, storage platform.Storage) (*Store, error) {
	st := newWireState()
	found, err := storage.ReadJSONOrNull(ctx, stateKey, st)
	if err != nil {
		return nil, err
	}
	if !found {
		st = newWireState()
	}

	s := &Store{
		cfg:       cfg,
		storage:   storage,
		mutations: make(chan mutation, 64),
		stop:      make(chan struct{}),
		state:     st,
	}
	go s.writerLoop(ctx)
	return s, nil
}

func (s *Store) writerLoop(ctx context.Context) {
	for {
		select {
		case m := <-s.mutations:
			m.apply(s.state)
			err := s.persistLocked(ctx)
			m.done <- err
		case <-s.stop:
			return
		}
	}
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	return s.storage.WriteObject(ctx, stateKey, data, "application/json")
}

func (s *Store) mutate(apply func(*wireState)) error {
	done := make(chan error, 1)
	s.mutations <- mutation{apply: apply, done: done}
	return <-done
}

// ShouldSkipQuery implements frontier.Store.
func (s *Store) ShouldSkipQuery(productID, query string) bool {
	key := queryKey(productID, query)
	rec, ok := s.state.Queries[key]
	if !ok {
		return false
	}
	return time.Since(rec.LastSeenAt) < s.cfg.QueryCooldown
}

// ShouldSkipURL implements frontier.Store.
func (s *Store) ShouldSkipURL(rawURL string) (bool, frontier.SkipReason) {
	canon := Canonicalize(rawURL, s.cfg.StripTrackingParams)
	rec, ok := s.state.URLs[canon]
	if !ok {
		return false, frontier.SkipNone
	}
	if time.Now().Before(rec.NotBefore) {
		switch {
		case rec.LastStatus == 410:
			return true, frontier.SkipStatus410
		case rec.LastStatus == 429:
			return true, frontier.SkipStatus429
		case rec.LastStatus == 404 && rec.RepeatCount >= 2:
			return true, frontier.SkipStatus404Repeated
		case rec.LastStatus == 404:
			return true, frontier.SkipStatus404
		}
	}
	return false, frontier.SkipNone
}

// RecordQuery implements frontier.Store.
func (s *Store) RecordQuery(productID, query string) error {
	key := queryKey(productID, query)
	return s.mutate(func(st *wireState) {
		st.Queries[key] = wireQuery{LastSeenAt: time.Now()}
	})
}

// RecordFetch implements frontier.Store, updating cooldown state for
// the canonicalized URL based on its HTTP status.
func (s *Store) RecordFetch(productID, rawURL string, status int, fieldsFound int) error {
	canon := Canonicalize(rawURL, s.cfg.StripTrackingParams)
	return s.mutate(func(st *wireState) {
		prev := st.URLs[canon]
		repeat := 0
		if prev.LastStatus == status {
			repeat = prev.RepeatCount + 1
		}

		rec := wireURL{
			LastStatus:  status,
			LastFetchAt: time.Now(),
			RepeatCount: repeat,
			FieldsFound: prev.FieldsFound + fieldsFound,
		}

		switch status {
		case 404:
			cooldown := s.cfg.Cooldown404
			if repeat >= 2 {
				cooldown = s.cfg.Cooldown404Repeat * time.Duration(1<<uint(min(repeat-2, 10)))
			}
			rec.NotBefore = time.Now().Add(cooldown)
		case 410:
			rec.NotBefore = time.Now().Add(s.cfg.Cooldown410)
		case 429:
			backoff := s.cfg.Cooldown429Base * time.Duration(1<<uint(min(repeat, 10)))
			rec.NotBefore = time.Now().Add(backoff)
		}

		st.URLs[canon] = rec
		logging.FrontierDebug("recorded fetch %s status=%d repeat=%d", canon, status, repeat)
	})
}

// SnapshotForProduct implements frontier.Store.
func (s *Store) SnapshotForProduct(productID string) frontier.Snapshot {
	var snap frontier.Snapshot
	prefix := productID + "|"
	for k := range s.state.Queries {
		if strings.HasPrefix(k, prefix) {
			snap.QueryCount++
		}
	}
	// URL records are not keyed by product; this store does not track
	// which product drove a given fetch beyond the query-cooldown key.
	snap.URLCount = len(s.state.URLs)
	for _, rec := range s.state.URLs {
		snap.FieldYield += rec.FieldsFound
	}
	return snap
}

// Close stops the writer-lane goroutine.
func (s *Store) Close() error {
	close(s.stop)
	return nil
}

func queryKey(productID, query string) string {
	return productID + "|" + normalizeQuery(query)
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// trackingParams lists the query parameters Canonicalize strips when
// configured to — the common analytics/referral params that do not
// change the resource a URL identifies.
var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true, "gclid": true, "fbclid": true,
	"ref": true, "referrer": true,
}

// Canonicalize lower-cases the host, drops a trailing slash, and
// optionally strips tracking parameters, so cooldown bookkeeping
// treats equivalent URLs as the same resource.
func Canonicalize(rawURL string, stripTracking bool) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if stripTracking {
		q := u.Query()
		for k := range q {
			if trackingParams[strings.ToLower(k)] {
				q.Del(k)
			}
		}
		u.RawQuery = q.Encode()
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
