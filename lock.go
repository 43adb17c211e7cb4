package safelock

import (
	"errors"

	"github.com/go-logr/logr"

	"github.com/makcandrov/safelock/uprw"
)

// Lock owns a payload of type T and the reader-writer primitive guarding it.
// Access to the payload goes either through the handle protocol (Handle →
// Acquire → Release/Upgrade) or through plain shared reads via Load.
//
// A Lock must not be copied after first use.
type Lock[T any] struct {
	name   string
	mu     RWUpgrader
	log    logr.Logger
	onLeak []func()
	s      stats

	data T
}

var ErrConsumedHandle = errors.New(`use of consumed handle`)
var ErrConsumedGuard = errors.New(`use of consumed guard`)
var ErrLeakedGuard = errors.New(`guard collected while holding the lock`)

// New creates a Lock over v. The default primitive is an in-process
// uprw.RWMutex; plug a different one with WithLocker.
func New[T any](v T, opts ...Option[T]) *Lock[T] {

	l := &Lock[T]{
		mu:   new(uprw.RWMutex),
		log:  logr.Discard(),
		data: v,
	}

	for _, o := range opts {
		o(l)
	}
	return l
}

// Handle starts a fresh acquisition lineage: an unlocked handle holding no
// guard. Any number of lineages may run concurrently; the primitive
// serializes conflicting holds.
func (l *Lock[T]) Handle() *Unlocked[T] {
	return &Unlocked[T]{l: l}
}

// Load returns a snapshot of the payload under a plain shared hold. It sits
// outside the handle protocol: any number of Load calls may run while an
// upgradable guard is live, and all of them block while a writer holds the
// lock exclusively.
func (l *Lock[T]) Load() T {
	l.mu.RLock()
	v := l.data
	l.mu.RUnlock()
	return v
}

// Stats returns a snapshot of the lock statistics.
// The returned struct is a copy and safe to use without synchronization.
func (l *Lock[T]) Stats() Stats {
	return l.s.snapshot()
}

// leakCheck runs from the guard cleanup when a guard was collected without a
// consuming call. The hold is still active and can never be released.
func (l *Lock[T]) leakCheck(s *guardState) {
	if s.consumed.Load() {
		return
	}

	l.s.leaked()
	l.log.Error(ErrLeakedGuard, `Guard leaked.`, `lock`, l.name, `mode`, s.mode)
	for _, f := range l.onLeak {
		f()
	}
}
