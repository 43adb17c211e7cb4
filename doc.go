// Package safelock provides a consume-checked protocol for using an
// upgradable reader-writer lock correctly in check-then-maybe-write loops.
//
// # Overview
//
// A raw reader-writer lock does nothing to stop a caller from mutating before
// validating a condition, mutating twice in one retry iteration, or looping
// on with a guard it already spent. Safelock makes those misuses structural:
//   - Three states, three types: Unlocked (no hold), ReadGuard
//     (upgradable-shared hold), WriteGuard (exclusive hold)
//   - Consuming transitions: every transition spends the value it is called
//     on and returns the successor state; reuse panics
//   - Atomic upgrade: the shared-to-exclusive promotion leaves no window for
//     another writer, so a condition checked under a ReadGuard still holds
//     when the WriteGuard writes
//   - Pluggable primitive: any RWUpgrader works; an in-process one ships in
//     uprw, PostgreSQL- and Redis-backed ones in the pgsql and redis
//     submodules
//
// # Basic Usage
//
//	l := safelock.New(10)
//
//	h := l.Handle()
//	for {
//	    g := h.Acquire() // h is spent
//	    if g.Value() < 20 {
//	        h = g.Release() // rebind and retry
//	        continue
//	    }
//	    w := g.Upgrade() // g is spent; nothing left to loop with
//	    w.Set(0)
//	    w.Unlock()
//	    break
//	}
//
// After w.Unlock() the lineage is over: h, g and w are all spent, and the
// only way back into the protocol is a fresh l.Handle().
//
// # What Cannot Be Written
//
// There is no Set on a ReadGuard and no operation on a WriteGuard that hands
// a handle back, so "mutate before checking" and "write, then loop and write
// again" do not type-check. Reusing a spent handle or guard is the one misuse
// Go's type system cannot reject; it panics with ErrConsumedHandle or
// ErrConsumedGuard instead. This is a runtime approximation of a move-checked
// guarantee and is deliberately unrecoverable.
//
// # Leaked Guards
//
// Go has no scope-end destructor, so a guard that is dropped without a
// consuming call keeps its hold forever. Safelock registers a cleanup on
// every guard; if the collector finds one unconsumed, the Leaked counter is
// bumped, the configured logger reports it, and the onLeak callbacks run:
//
//	l := safelock.New(state,
//	    safelock.WithName[State]("session-table"),
//	    safelock.WithLogr[State](log),
//	    safelock.WithOnLeak[State](func() {
//	        // page someone: a hold can never be released now
//	    }),
//	)
//
// # Statistics
//
// Safelock keeps vendor-agnostic counters, exported via the Stats() method:
//
//	stats := l.Stats()
//	fmt.Printf("Acquired: %d, Upgraded: %d\n", stats.Acquired, stats.Upgraded)
//
// The Stats struct contains: Acquired, Released, Upgraded, Unlocked, Leaked,
// TotalReadDuration, TotalWriteDuration and HoldSince. Export to any
// monitoring system (Prometheus, OpenTelemetry, StatsD, etc.).
//
// # Implementing a Primitive
//
// To run the protocol over another lock service, implement RWUpgrader:
//
//	type RWUpgrader interface {
//	    ULock()
//	    UUnlock()
//	    Upgrade()
//	    Unlock()
//	    RLock()
//	    RUnlock()
//	}
//
// All methods block until granted and never fail; remote implementations
// retry transient errors internally. Upgrade must be genuinely atomic with
// respect to other writers: "release shared, then acquire exclusive"
// reintroduces the lost-update race this package exists to prevent.
//
// # Caveats
//
// The protocol is not re-entrant: acquiring from a goroutine that already
// holds a guard on the same Lock deadlocks, exactly as with sync.RWMutex.
// There are no timed or try variants, and no poisoning on panic.
package safelock
