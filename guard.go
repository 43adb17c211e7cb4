package safelock

import (
	"runtime"
	"sync/atomic"
)

// guardState is shared between a guard and its cleanup so the cleanup can
// tell a consumed guard from a leaked one without keeping the guard alive.
type guardState struct {
	mode     string
	consumed atomic.Bool
}

func (s *guardState) consume(err error) {
	if s.consumed.Swap(true) {
		panic(err)
	}
}

func (s *guardState) check(err error) {
	if s.consumed.Load() {
		panic(err)
	}
}

// Unlocked is a handle over a Lock with no guard held. It is the entry state
// of the protocol and the state Release returns to.
type Unlocked[T any] struct {
	l    *Lock[T]
	used atomic.Bool
}

// Acquire consumes the handle and blocks until an upgradable-shared hold is
// granted, returning a read guard over the same Lock. Calling Acquire on a
// consumed handle panics with ErrConsumedHandle.
//
// Acquiring from a goroutine that already holds a guard on the same Lock
// deadlocks; the protocol is not re-entrant.
func (h *Unlocked[T]) Acquire() *ReadGuard[T] {
	if h.used.Swap(true) {
		panic(ErrConsumedHandle)
	}

	h.l.mu.ULock()
	h.l.s.acquired()
	return newReadGuard(h.l)
}

// ReadGuard is a live upgradable-shared hold. It allows inspection of the
// payload and exactly one of two exits: Release (abandon, retry later) or
// Upgrade (commit to a write).
type ReadGuard[T any] struct {
	l     *Lock[T]
	state *guardState
}

func newReadGuard[T any](l *Lock[T]) *ReadGuard[T] {
	g := &ReadGuard[T]{l: l, state: &guardState{mode: `read`}}
	runtime.AddCleanup(g, l.leakCheck, g.state)
	return g
}

// Value returns a snapshot of the payload. The guard stays live; no mutable
// alias of the payload can escape through a read guard.
func (g *ReadGuard[T]) Value() T {
	g.state.check(ErrConsumedGuard)
	return g.l.data
}

// Release consumes the guard, drops the upgradable-shared hold and returns a
// fresh unlocked handle over the same Lock. The intended pattern is to rebind
// the caller's handle variable to the result and retry.
func (g *ReadGuard[T]) Release() *Unlocked[T] {
	g.state.consume(ErrConsumedGuard)

	// Settle the stats while the hold is still ours: once UUnlock returns, a
	// blocked Acquire may complete and store its own timestamps.
	g.l.s.released()
	g.l.mu.UUnlock()
	return &Unlocked[T]{l: g.l}
}

// Upgrade consumes the guard and atomically promotes the hold to exclusive,
// blocking until plain readers have drained. No other writer can complete an
// acquisition or an upgrade between the read that justified the decision and
// the write that follows.
//
// Upgrade hands back only a write guard: there is no handle left to loop
// with, so a lineage can commit at most one write.
func (g *ReadGuard[T]) Upgrade() *WriteGuard[T] {
	g.state.consume(ErrConsumedGuard)

	g.l.mu.Upgrade()
	g.l.s.upgraded()
	return newWriteGuard(g.l)
}

// WriteGuard is a live exclusive hold: while it exists, no reader and no
// other writer holds the lock. It exposes no transition back into the
// protocol; Unlock is terminal.
type WriteGuard[T any] struct {
	l     *Lock[T]
	state *guardState
}

func newWriteGuard[T any](l *Lock[T]) *WriteGuard[T] {
	g := &WriteGuard[T]{l: l, state: &guardState{mode: `write`}}
	runtime.AddCleanup(g, l.leakCheck, g.state)
	return g
}

// Value returns the current payload.
func (g *WriteGuard[T]) Value() T {
	g.state.check(ErrConsumedGuard)
	return g.l.data
}

// Set replaces the payload.
func (g *WriteGuard[T]) Set(v T) {
	g.state.check(ErrConsumedGuard)
	g.l.data = v
}

// Update mutates the payload in place. The pointer must not be retained
// beyond f.
func (g *WriteGuard[T]) Update(f func(*T)) {
	g.state.check(ErrConsumedGuard)
	f(&g.l.data)
}

// Unlock consumes the guard and releases the exclusive hold. It returns
// nothing: the lineage ends here. Run it on every exit path, usually with
// defer, since a dropped write guard keeps the lock held forever.
func (g *WriteGuard[T]) Unlock() {
	g.state.consume(ErrConsumedGuard)

	// Stats first, release second; see Release.
	g.l.s.unlocked()
	g.l.mu.Unlock()
}
