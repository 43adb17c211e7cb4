package safelock

// RWUpgrader is the contract safelock requires from the underlying
// reader-writer primitive. All methods block until the requested hold is
// granted and never fail; fairness and wake ordering among waiters are the
// primitive's business.
//
// Remote implementations (see the pgsql and redis submodules) must retry
// transient failures internally rather than surface them.
type RWUpgrader interface {
	// ULock acquires the lock in upgradable-shared mode. It blocks while an
	// exclusive holder or another upgradable-shared holder exists. Plain
	// readers keep their holds.
	ULock()

	// UUnlock releases an upgradable-shared hold that was not upgraded.
	UUnlock()

	// Upgrade atomically promotes the upgradable-shared hold to an exclusive
	// one, blocking until plain readers have drained. No other holder may
	// acquire exclusive access, or complete an upgrade of its own, between
	// the caller's ULock and the completion of Upgrade.
	Upgrade()

	// Unlock releases the exclusive hold taken by Upgrade.
	Unlock()

	// RLock acquires the lock in plain shared mode. Arbitrarily many plain
	// shared holds may coexist, alongside at most one upgradable holder.
	RLock()

	// RUnlock releases a plain shared hold.
	RUnlock()
}
