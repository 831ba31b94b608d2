// Package store holds the current board snapshot.
//
// Readers load the current snapshot without locking. Writers publish a new
// snapshot, which is stamped with the next version and delivered to every
// subscriber. A subscriber that falls behind only ever sees the newest
// snapshot: intermediate versions are dropped, never queued.
package store

import (
	"sync"
	"sync/atomic"

	"github.com/vanderheijden86/zenboard/pkg/model"
)

// Store owns the single current snapshot pointer.
type Store struct {
	current atomic.Pointer[model.Snapshot]

	mu     sync.Mutex // serializes Publish and subscriber bookkeeping
	subs   map[*Subscription]struct{}
	closed bool
}

// New returns a store whose current snapshot is the empty version-0 snapshot.
func New() *Store {
	s := &Store{subs: make(map[*Subscription]struct{})}
	s.current.Store(model.EmptySnapshot())
	return s
}

// Current returns the most recently published snapshot. It never blocks and
// never returns nil.
func (s *Store) Current() *model.Snapshot {
	return s.current.Load()
}

// Publish installs snap as the current snapshot. The stored value is a
// shallow copy of snap carrying the next version number; it is returned so
// callers can keep a reference to exactly what readers see. Publishing after
// Close is a no-op that returns the current snapshot.
func (s *Store) Publish(snap *model.Snapshot) *model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	if s.closed || snap == nil {
		return prev
	}
	next := *snap
	next.Version = prev.Version + 1
	if next.Cards == nil {
		next.Cards = map[model.IssueNumber]model.Card{}
	}
	s.current.Store(&next)

	for sub := range s.subs {
		sub.offer(&next)
	}
	return &next
}

// Subscribe registers a new subscriber. The current snapshot is delivered
// first, so a late subscriber does not wait for the next publication.
func (s *Store) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan *model.Snapshot, 1), store: s}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(sub.ch)
		sub.done = true
		return sub
	}
	s.subs[sub] = struct{}{}
	sub.offer(s.current.Load())
	return sub
}

// Close ends every subscription. Current keeps returning the last snapshot.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		sub.closeLocked()
	}
	s.subs = nil
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Subscription receives snapshot notifications from a Store.
type Subscription struct {
	ch    chan *model.Snapshot
	store *Store
	done  bool // guarded by store.mu
}

// C returns the notification channel. It is closed when the subscription
// or the store is closed.
func (sub *Subscription) C() <-chan *model.Snapshot {
	return sub.ch
}

// Close unregisters the subscription. It is safe to call more than once.
func (sub *Subscription) Close() {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	if sub.done {
		return
	}
	delete(sub.store.subs, sub)
	sub.closeLocked()
}

func (sub *Subscription) closeLocked() {
	if sub.done {
		return
	}
	sub.done = true
	close(sub.ch)
}

// offer delivers snap, replacing an undelivered older snapshot. Callers hold
// store.mu, so this is the only sender and the retry always succeeds.
func (sub *Subscription) offer(snap *model.Snapshot) {
	if sub.done {
		return
	}
	for {
		select {
		case sub.ch <- snap:
			return
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
	}
}
