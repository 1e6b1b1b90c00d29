package service

import (
	"context"
	"sync"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
	"github.com/tremiti/admin-console/internal/util"
)

// Publisher is the write side of a SessionStore. Only the session manager holds one.
type Publisher interface {
	Publish(state domainauth.State, session *domainauth.Session, notice *domainauth.Notice) domainauth.Snapshot
}

// SessionStore holds one client's current session snapshot and fans it out to
// subscribers in publication order.
type SessionStore struct {
	mu      sync.Mutex
	snap    domainauth.Snapshot
	changed chan struct{}
	subs    map[int]*subscriber
	nextID  int
	closed  bool

	queue *util.SerialQueue[delivery]
}

type subscriber struct {
	fn   func(domainauth.Snapshot)
	next uint64 // lowest version fn has not seen; owned by the delivery goroutine after Subscribe
}

type delivery struct {
	snap   domainauth.Snapshot
	target int // -1 delivers to every subscriber
}

var _ Publisher = (*SessionStore)(nil)

// NewSessionStore returns a store in StateUnknown.
func NewSessionStore() *SessionStore {
	s := &SessionStore{
		changed: make(chan struct{}),
		subs:    make(map[int]*subscriber),
	}
	s.queue = util.NewSerialQueue(s.deliver)
	return s
}

// Snapshot returns the current value.
func (s *SessionStore) Snapshot() domainauth.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Publish replaces the current value and bumps its version.
func (s *SessionStore) Publish(state domainauth.State, session *domainauth.Session, notice *domainauth.Notice) domainauth.Snapshot {
	if state != domainauth.StateAuthorized {
		session = nil
	}
	if session != nil {
		cp := *session
		session = &cp
	}
	if notice != nil {
		cp := *notice
		notice = &cp
	}

	s.mu.Lock()
	s.snap = domainauth.Snapshot{
		Version: s.snap.Version + 1,
		State:   state,
		Session: session,
		Notice:  notice,
	}
	snap := s.snap
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	s.queue.Post(delivery{snap: snap, target: -1})
	return snap
}

// Subscribe registers fn and queues the current snapshot for it, so a new
// subscriber never misses the value it started from.
func (s *SessionStore) Subscribe(fn func(domainauth.Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	snap := s.snap
	s.subs[id] = &subscriber{fn: fn, next: snap.Version}
	s.mu.Unlock()

	s.queue.Post(delivery{snap: snap, target: id})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Await blocks until pred holds for the current snapshot or ctx ends.
// On cancellation it returns the latest snapshot together with ctx.Err().
func (s *SessionStore) Await(ctx context.Context, pred func(domainauth.Snapshot) bool) (domainauth.Snapshot, error) {
	for {
		s.mu.Lock()
		snap, changed := s.snap, s.changed
		s.mu.Unlock()

		if pred(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		case <-changed:
		}
	}
}

// Settled is an Await predicate for snapshots newer than version with no resolution pending.
func Settled(after uint64) func(domainauth.Snapshot) bool {
	return func(s domainauth.Snapshot) bool {
		return s.Version > after && s.State.Settled()
	}
}

// Close flushes pending notifications and drops all subscribers.
func (s *SessionStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.queue.Close()

	s.mu.Lock()
	s.subs = make(map[int]*subscriber)
	s.mu.Unlock()
}

func (s *SessionStore) deliver(d delivery) {
	s.mu.Lock()
	var targets []*subscriber
	if d.target >= 0 {
		if sub, ok := s.subs[d.target]; ok {
			targets = append(targets, sub)
		}
	} else {
		for id := 0; id < s.nextID; id++ {
			if sub, ok := s.subs[id]; ok {
				targets = append(targets, sub)
			}
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		if d.snap.Version < sub.next {
			continue
		}
		sub.next = d.snap.Version + 1
		sub.fn(d.snap)
	}
}
