package safelock_test

import (
	"fmt"

	"github.com/makcandrov/safelock"
	"github.com/makcandrov/safelock/uprw"
)

func Example() {
	l := safelock.New(10)

	h := l.Handle()
	for {
		g := h.Acquire()
		if g.Value() < 20 {
			fmt.Println("too small, retrying:", g.Value())
			h = g.Release()

			// Somebody else pushes the value past the threshold.
			w := l.Handle().Acquire().Upgrade()
			w.Set(25)
			w.Unlock()
			continue
		}

		w := g.Upgrade()
		w.Set(0)
		w.Unlock()
		break
	}

	fmt.Println("final:", l.Load())
	// Output:
	// too small, retrying: 10
	// final: 0
}

func Example_update() {
	type counters struct {
		Hits, Misses int
	}
	l := safelock.New(counters{})

	g := l.Handle().Acquire()
	w := g.Upgrade()
	w.Update(func(c *counters) { c.Hits++ })
	w.Unlock()

	fmt.Printf("%+v\n", l.Load())
	// Output:
	// {Hits:1 Misses:0}
}

func Example_consumedHandle() {
	l := safelock.New("payload")

	h := l.Handle()
	h.Acquire().Release()

	defer func() { fmt.Println("recovered:", recover()) }()

	// The handle was spent by the first Acquire; reusing it panics.
	h.Acquire()
	// Output:
	// recovered: use of consumed handle
}

func Example_withLocker() {
	// The default primitive is an in-process uprw.RWMutex; WithLocker plugs
	// any other RWUpgrader, such as the pgsql or redis submodule lockers.
	l := safelock.New(0, safelock.WithLocker[int](new(uprw.RWMutex)))

	w := l.Handle().Acquire().Upgrade()
	w.Set(99)
	w.Unlock()

	fmt.Println(l.Load())
	// Output:
	// 99
}

func Example_stats() {
	l := safelock.New(0)

	// One abandoned attempt, one committed write.
	h := l.Handle().Acquire().Release()
	w := h.Acquire().Upgrade()
	w.Set(1)
	w.Unlock()

	stats := l.Stats()
	fmt.Printf("Acquired: %d\n", stats.Acquired)
	fmt.Printf("Released: %d\n", stats.Released)
	fmt.Printf("Upgraded: %d\n", stats.Upgraded)
	fmt.Printf("Unlocked: %d\n", stats.Unlocked)

	// Output:
	// Acquired: 2
	// Released: 1
	// Upgraded: 1
	// Unlocked: 1
}
