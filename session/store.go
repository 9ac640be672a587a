package session

import (
	"sync"
	"time"

	"github.com/AlwaysKaffa/ratioghost/announce"
	C "github.com/AlwaysKaffa/ratioghost/constant"
)

// Key identifies one torrent as seen by one client instance. Distinct keys
// are fully independent; updates for the same key are serialized by the
// store.
type Key struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Session holds the last real counters a client reported for a key, before
// any rewriting, plus the swarm statistics harvested from tracker responses.
type Session struct {
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	LastEvent  announce.Event
	LastSeen   time.Time

	// Swarm statistics from the last bencoded tracker response, zero until
	// the first successful relay.
	Seeders  int64
	Leechers int64
	Interval int64
}

// Entry is a keyed session snapshot, as exposed by the control API.
type Entry struct {
	Key     Key
	Session Session
}

// Store is the concurrency-safe map of per-torrent sessions. Entries are
// created on first announce and swept after a TTL; correctness never depends
// on eviction.
type Store struct {
	access   sync.RWMutex
	sessions map[Key]*Session
	ttl      time.Duration
	done     chan struct{}
	closed   sync.Once
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[Key]*Session),
		ttl:      C.SessionTTL,
		done:     make(chan struct{}),
	}
}

// Find returns a copy of the session for key, if one exists. The copy keeps
// readers isolated from concurrent writers.
func (s *Store) Find(key Key) (Session, bool) {
	s.access.RLock()
	defer s.access.RUnlock()
	session, loaded := s.sessions[key]
	if !loaded {
		return Session{}, false
	}
	return *session, true
}

// Update records the real counters from a successfully forwarded announce,
// creating the session on first contact. It returns the prior state so the
// caller can log continuity changes.
func (s *Store) Update(key Key, uploaded, downloaded, left uint64, event announce.Event) (prior Session, existed bool) {
	s.access.Lock()
	defer s.access.Unlock()
	session, loaded := s.sessions[key]
	if !loaded {
		session = new(Session)
		s.sessions[key] = session
	} else {
		prior = *session
	}
	session.Uploaded = uploaded
	session.Downloaded = downloaded
	session.Left = left
	session.LastEvent = event
	session.LastSeen = time.Now()
	return prior, loaded
}

// UpdateSwarm stores the seeder/leecher counts and announce interval decoded
// from a tracker response. Unknown keys are ignored: a response only counts
// if its announce was recorded first.
func (s *Store) UpdateSwarm(key Key, seeders, leechers, interval int64) {
	s.access.Lock()
	defer s.access.Unlock()
	session, loaded := s.sessions[key]
	if !loaded {
		return
	}
	session.Seeders = seeders
	session.Leechers = leechers
	if interval > 0 {
		session.Interval = interval
	}
}

func (s *Store) Len() int {
	s.access.RLock()
	defer s.access.RUnlock()
	return len(s.sessions)
}

// Snapshot copies every live session, for the control API.
func (s *Store) Snapshot() []Entry {
	s.access.RLock()
	defer s.access.RUnlock()
	entries := make([]Entry, 0, len(s.sessions))
	for key, session := range s.sessions {
		entries = append(entries, Entry{Key: key, Session: *session})
	}
	return entries
}

// Start launches the stale-entry sweeper.
func (s *Store) Start() error {
	go s.loopSweep()
	return nil
}

func (s *Store) Close() error {
	s.closed.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *Store) loopSweep() {
	ticker := time.NewTicker(C.SessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep(time.Now().Add(-s.ttl))
		}
	}
}

func (s *Store) sweep(deadline time.Time) {
	s.access.Lock()
	defer s.access.Unlock()
	for key, session := range s.sessions {
		if session.LastSeen.Before(deadline) {
			delete(s.sessions, key)
		}
	}
}
