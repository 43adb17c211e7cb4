package safelock

import (
	"sync/atomic"
	"time"
)

// Stats is a read-only snapshot of lock statistics.
// Use Lock.Stats() to obtain a snapshot that can be exported
// to any monitoring system (Prometheus, OpenTelemetry, StatsD, etc.).
type Stats struct {
	Acquired           int64         // Number of upgradable-shared acquisitions
	Released           int64         // Number of guards released without writing
	Upgraded           int64         // Number of shared-to-exclusive promotions
	Unlocked           int64         // Number of exclusive releases
	Leaked             int64         // Number of guards collected while still holding the lock
	TotalReadDuration  time.Duration // Cumulative upgradable-shared hold duration
	TotalWriteDuration time.Duration // Cumulative exclusive hold duration
	HoldSince          time.Time     // Zero if no upgradable or exclusive hold.
}

// stats uses atomic counters for thread-safe statistics collection. The
// timestamp slots are written only by a goroutine that owns the upgradable
// or exclusive hold, so those writes never race each other.
type stats struct {
	acquires   atomic.Int64
	releases   atomic.Int64
	upgrades   atomic.Int64
	unlocks    atomic.Int64
	leaks      atomic.Int64
	acquiredat atomic.Int64 // nanoseconds timestamp, 0 when unheld
	upgradedat atomic.Int64 // nanoseconds timestamp, 0 outside exclusive holds
	totalRead  atomic.Int64 // stored as nanoseconds
	totalWrite atomic.Int64 // stored as nanoseconds
}

// snapshot returns a read-only copy of current statistics.
func (c *stats) snapshot() Stats {
	s := Stats{
		Acquired:           c.acquires.Load(),
		Released:           c.releases.Load(),
		Upgraded:           c.upgrades.Load(),
		Unlocked:           c.unlocks.Load(),
		Leaked:             c.leaks.Load(),
		TotalReadDuration:  time.Duration(c.totalRead.Load()),
		TotalWriteDuration: time.Duration(c.totalWrite.Load()),
		HoldSince:          nano2time(c.acquiredat.Load()),
	}
	if at := c.upgradedat.Load(); at != 0 {
		s.TotalWriteDuration += time.Since(nano2time(at))
	} else if at := c.acquiredat.Load(); at != 0 {
		s.TotalReadDuration += time.Since(nano2time(at))
	}

	return s
}

func (c *stats) acquired() {
	c.acquires.Add(1)
	c.acquiredat.Store(time.Now().UnixNano())
}
func (c *stats) released() {
	c.releases.Add(1)
	at := c.acquiredat.Swap(0)
	c.totalRead.Add(int64(time.Since(nano2time(at))))
}
func (c *stats) upgraded() {
	c.upgrades.Add(1)
	at := c.acquiredat.Load()
	c.totalRead.Add(int64(time.Since(nano2time(at))))
	c.upgradedat.Store(time.Now().UnixNano())
}
func (c *stats) unlocked() {
	c.unlocks.Add(1)
	c.acquiredat.Store(0)
	at := c.upgradedat.Swap(0)
	c.totalWrite.Add(int64(time.Since(nano2time(at))))
}
func (c *stats) leaked() { c.leaks.Add(1) }

func nano2time(at int64) time.Time {
	if at == 0 {
		return time.Time{}
	}
	return time.Unix(at/1e9, at%1e9)
}
