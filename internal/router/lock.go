package router

import (
	"context"
	"fmt"
	"sync"
)

// Locker serializes one player's mutations across processes. Lock blocks until the
// lock is held and returns its release func.
type Locker interface {
	Lock(ctx context.Context, playerID string) (func(), error)
}

// playerLocks serializes work per player. Entries are reference counted so the map
// only holds players with work in flight.
type playerLocks struct {
	mu    sync.Mutex
	locks map[string]*playerLock
}

type playerLock struct {
	mu   sync.Mutex
	refs int
}

func newPlayerLocks() *playerLocks {
	return &playerLocks{locks: make(map[string]*playerLock)}
}

// lock blocks until the caller holds playerID's lock and returns the release func.
func (p *playerLocks) lock(playerID string) func() {
	p.mu.Lock()
	l, ok := p.locks[playerID]
	if !ok {
		l = &playerLock{}
		p.locks[playerID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, playerID)
		}
		p.mu.Unlock()
	}
}

func (p *playerLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}

// acquire takes the in-process lock, then the shared lock when one is configured.
// Holding the local lock first keeps same-process callers from polling the shared one.
func (r *Router) acquire(ctx context.Context, playerID string) (func(), error) {
	unlock := r.locks.lock(playerID)
	if r.locker == nil {
		return unlock, nil
	}
	release, err := r.locker.Lock(ctx, playerID)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to lock player %s: %w", playerID, err)
	}
	return func() {
		release()
		unlock()
	}, nil
}
