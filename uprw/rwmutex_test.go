package uprw

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const hammerN = 1000 // small enough for the race detector's goroutine limit

func TestRWMutexUpgrade(t *testing.T) {
	var mu RWMutex
	var state int

	increment := func() {
		mu.Lock()
		defer mu.Unlock()
		state = state + 1
	}
	upgradedIncrement := func() {
		mu.ULock()
		old := state
		mu.Upgrade()
		state = old + 1
		mu.Unlock()
	}
	checkedIncrement := func() {
		// Retry path: release without upgrading, then go again.
		mu.ULock()
		mu.UUnlock()
		mu.ULock()
		old := state
		mu.Upgrade()
		state = old + 1
		mu.Unlock()
	}

	tests := []struct {
		name  string
		funcs []func()
	}{
		{name: "direct", funcs: []func(){increment}},
		{name: "upgraded", funcs: []func(){upgradedIncrement}},
		{name: "released and retried", funcs: []func(){checkedIncrement}},
		{name: "direct AND upgraded", funcs: []func(){increment, upgradedIncrement}},
		{name: "all three", funcs: []func(){increment, upgradedIncrement, checkedIncrement}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			state = 0
			c := make(chan struct{})
			var wg sync.WaitGroup
			wg.Add(hammerN * len(test.funcs))
			for range hammerN {
				for _, f := range test.funcs {
					go func() {
						<-c
						f()
						wg.Done()
					}()
				}
			}
			close(c)
			wg.Wait()
			want := hammerN * len(test.funcs)
			if state != want {
				t.Errorf("state=%v, want %v", state, want)
			}
		})
	}
}

func TestRWMutexReadersDontBlockEachOther(t *testing.T) {
	var mu RWMutex

	mu.RLock()
	defer mu.RUnlock()

	done := make(chan struct{})
	go func() {
		mu.RLock()
		mu.RUnlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second reader blocked by first reader")
	}
}

func TestRWMutexReadersCoexistWithUpgradableHolder(t *testing.T) {
	var mu RWMutex

	mu.ULock()
	defer mu.UUnlock()

	done := make(chan struct{})
	go func() {
		mu.RLock()
		mu.RUnlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("plain reader blocked by upgradable holder")
	}
}

func TestRWMutexUpgradeWaitsForReaders(t *testing.T) {
	var mu RWMutex
	var upgraded atomic.Bool

	mu.RLock()
	mu.ULock()

	done := make(chan struct{})
	go func() {
		mu.Upgrade()
		upgraded.Store(true)
		mu.Unlock()
		close(done)
	}()

	// The reader is still in; the upgrade must not have completed.
	time.Sleep(50 * time.Millisecond)
	if upgraded.Load() {
		t.Fatal("Upgrade completed while a plain reader held the lock")
	}

	mu.RUnlock()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Upgrade did not complete after readers drained")
	}
}

func TestRWMutexSecondUpgraderWaits(t *testing.T) {
	var mu RWMutex
	var order []string
	var omu sync.Mutex
	record := func(s string) {
		omu.Lock()
		order = append(order, s)
		omu.Unlock()
	}

	mu.ULock()

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		mu.ULock() // blocks until the first holder unlocks
		record("second")
		mu.UUnlock()
		close(done)
	}()

	<-started
	time.Sleep(50 * time.Millisecond)
	record("first")
	mu.Upgrade()
	mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second upgradable holder never unblocked")
	}

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order=%v, want [first second]", order)
	}
}

// A failure for this test looks like a deadlock.
func TestRWMutexDoesntDeadlock(_ *testing.T) {
	var mu RWMutex

	mu.ULock()
	mu.Upgrade()
	mu.Unlock()

	mu.ULock()
	mu.RLock()
	mu.RLock()
	mu.RUnlock()
	mu.RUnlock()
	mu.Upgrade()
	mu.Unlock()

	mu.Lock()
	mu.Unlock()

	mu.RLock()
	mu.RLock()
	mu.RUnlock()
	mu.RUnlock()
}
