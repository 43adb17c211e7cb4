// Package uprw implements an in-process upgradable reader-writer mutual
// exclusion lock. It is the default primitive behind safelock.New and also
// usable on its own.
//
// If ULock, Upgrade and UUnlock are never called, an RWMutex behaves
// identically to a sync.RWMutex.
package uprw

import (
	"sync"
)

// An RWMutex is a reader-writer mutual exclusion lock with an
// upgradable-shared mode. At most one goroutine holds the upgradable mode at
// a time; while it does, plain readers proceed and writers block. Upgrade
// promotes the upgradable hold to an exclusive one with no window in which
// another writer could interleave, because every writer path first takes the
// same intent mutex the upgradable holder already owns.
//
// An RWMutex must not be copied after first use.
type RWMutex struct {
	w sync.Mutex   // intent: serializes writers and upgradable holders
	r sync.RWMutex // blocks plain readers during exclusive holds
}

// ULock locks m in upgradable-shared mode. If another goroutine holds m in
// upgradable or exclusive mode, ULock blocks until that hold is released.
// Plain readers do not block ULock and are not blocked by it.
func (m *RWMutex) ULock() {
	m.w.Lock()
	m.r.RLock()
}

// UUnlock releases an upgradable-shared hold that was not upgraded. It is a
// run-time error if m is not held in upgradable mode on entry to UUnlock.
func (m *RWMutex) UUnlock() {
	m.r.RUnlock()
	m.w.Unlock()
}

// Upgrade promotes an upgradable-shared hold to an exclusive one, blocking
// until all plain readers have released. No other writer can acquire m, and
// no other goroutine can complete an upgrade, between the ULock that started
// the hold and the write that follows Upgrade: both would need the intent
// mutex the caller already holds. It is a run-time error if m is not held in
// upgradable mode on entry to Upgrade.
func (m *RWMutex) Upgrade() {
	m.r.RUnlock()
	m.r.Lock()
}

// Unlock releases an exclusive hold, whether it came from Upgrade or from
// Lock. It is a run-time error if m is not held exclusively on entry to
// Unlock.
func (m *RWMutex) Unlock() {
	m.r.Unlock()
	m.w.Unlock()
}

// Lock locks m exclusively, blocking until every other hold is released.
// Upgradable holders count: Lock waits for UUnlock or the eventual Unlock.
func (m *RWMutex) Lock() {
	m.w.Lock()
	m.r.Lock()
}

// RLock locks m in plain shared mode. It blocks only while m is held
// exclusively or an upgrade is draining readers.
func (m *RWMutex) RLock() {
	m.r.RLock()
}

// RUnlock releases a plain shared hold. It is a run-time error if m is not
// held in shared mode on entry to RUnlock.
func (m *RWMutex) RUnlock() {
	m.r.RUnlock()
}
