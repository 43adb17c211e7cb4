// Package pgsql implements safelock.RWUpgrader over PostgreSQL session-level
// advisory locks, so lineages on different machines can drive the same
// check-then-maybe-write loop.
//
// Two advisory keys are derived from the lock name. The intent key is held
// exclusively for the whole lifetime of an upgradable or exclusive hold;
// because every writer path starts by taking it, the shared-to-exclusive
// promotion on the data key cannot interleave with another writer. Advisory
// locks are session-scoped, so every hold pins a dedicated *sql.Conn; size
// the pool (sql.DB.SetMaxOpenConns) for the expected number of concurrent
// holds. A session that dies server-side releases its holds automatically.
//
// Acquisition retries transient errors forever, which preserves the blocking
// contract. An error on a session that already holds the lock cannot be
// retried without giving up mutual exclusion, so Upgrade panics in that case
// rather than continue with a guarantee it no longer has.
package pgsql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	_ "github.com/lib/pq"

	"github.com/makcandrov/safelock"
)

var ErrNotHeld = errors.New(`lock not held`)
var ErrHoldLost = errors.New(`session lost while holding lock`)

var _ safelock.RWUpgrader = (*Locker)(nil)

// Locker provides the reader-writer contract over a pair of PostgreSQL
// advisory keys. All methods block until the hold is granted.
type Locker struct {
	db      *sql.DB
	key     int64 // data key: shared by readers, exclusive by the writer
	intent  int64 // intent key: exclusive for upgradable and exclusive holds
	log     logr.Logger
	backoff time.Duration

	mu      sync.Mutex
	uconn   *sql.Conn   // session of the current upgradable or exclusive hold
	readers []*sql.Conn // sessions of plain shared holds, fungible
}

type Option func(*Locker)

func WithLogr(l logr.Logger) Option {
	return func(k *Locker) { k.log = l }
}

// WithBackoff sets the delay between retries of failed lock calls.
func WithBackoff(d time.Duration) Option {
	return func(k *Locker) { k.backoff = d }
}

// New builds a Locker over db for the named lock. Lockers with the same name
// against the same database contend with each other.
func New(db *sql.DB, name string, opts ...Option) *Locker {
	k := &Locker{
		db:      db,
		key:     advisoryKey(name),
		intent:  advisoryKey(name + "\x00intent"),
		log:     logr.Discard(),
		backoff: time.Second,
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

// Open is a convenience wrapper around sql.Open("postgres", dsn) and New.
func Open(dsn, name string, opts ...Option) (*Locker, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf(`open: %w`, err)
	}
	return New(db, name, opts...), nil
}

func (k *Locker) ULock() {
	for {
		conn, err := k.session()
		if err != nil {
			k.retry(err)
			continue
		}
		if err := k.exec(conn, `SELECT pg_advisory_lock($1)`, k.intent); err != nil {
			k.discard(conn)
			k.retry(err)
			continue
		}
		// No writer can exist here (writers hold the intent key), so the
		// shared lock is granted without waiting.
		if err := k.exec(conn, `SELECT pg_advisory_lock_shared($1)`, k.key); err != nil {
			k.discard(conn)
			k.retry(err)
			continue
		}

		k.mu.Lock()
		k.uconn = conn
		k.mu.Unlock()
		return
	}
}

func (k *Locker) UUnlock() {
	conn := k.takeUconn()
	k.releaseSession(conn,
		unlockStmt{`SELECT pg_advisory_unlock_shared($1)`, k.key},
		unlockStmt{`SELECT pg_advisory_unlock($1)`, k.intent})
}

func (k *Locker) Upgrade() {
	k.mu.Lock()
	conn := k.uconn
	k.mu.Unlock()
	if conn == nil {
		panic(ErrNotHeld)
	}

	if err := k.exec(conn, `SELECT pg_advisory_unlock_shared($1)`, k.key); err != nil {
		k.lost(conn, err)
	}
	// Blocks until plain readers drain. Atomic with respect to writers: they
	// are parked on the intent key this session holds.
	if err := k.exec(conn, `SELECT pg_advisory_lock($1)`, k.key); err != nil {
		k.lost(conn, err)
	}
}

func (k *Locker) Unlock() {
	conn := k.takeUconn()
	k.releaseSession(conn,
		unlockStmt{`SELECT pg_advisory_unlock($1)`, k.key},
		unlockStmt{`SELECT pg_advisory_unlock($1)`, k.intent})
}

func (k *Locker) RLock() {
	for {
		conn, err := k.session()
		if err != nil {
			k.retry(err)
			continue
		}
		if err := k.exec(conn, `SELECT pg_advisory_lock_shared($1)`, k.key); err != nil {
			k.discard(conn)
			k.retry(err)
			continue
		}

		k.mu.Lock()
		k.readers = append(k.readers, conn)
		k.mu.Unlock()
		return
	}
}

func (k *Locker) RUnlock() {
	k.mu.Lock()
	n := len(k.readers)
	if n == 0 {
		k.mu.Unlock()
		panic(ErrNotHeld)
	}
	conn := k.readers[n-1]
	k.readers = k.readers[:n-1]
	k.mu.Unlock()

	k.releaseSession(conn, unlockStmt{`SELECT pg_advisory_unlock_shared($1)`, k.key})
}

func (k *Locker) session() (*sql.Conn, error) {
	return k.db.Conn(context.Background())
}

func (k *Locker) exec(conn *sql.Conn, query string, key int64) error {
	_, err := conn.ExecContext(context.Background(), query, key)
	return err
}

func (k *Locker) retry(err error) {
	k.log.Error(err, `Advisory lock call failed, retrying.`)
	time.Sleep(k.backoff)
}

func (k *Locker) takeUconn() *sql.Conn {
	k.mu.Lock()
	defer k.mu.Unlock()

	conn := k.uconn
	if conn == nil {
		panic(ErrNotHeld)
	}
	k.uconn = nil
	return conn
}

type unlockStmt struct {
	query string
	key   int64
}

// releaseSession runs the given unlock statements and returns the session to
// the pool. If any statement fails the session is discarded instead: tearing
// it down releases every advisory lock it holds.
func (k *Locker) releaseSession(conn *sql.Conn, stmts ...unlockStmt) {
	for _, s := range stmts {
		if err := k.exec(conn, s.query, s.key); err != nil {
			k.log.Error(err, `Advisory unlock failed, discarding session.`)
			k.discard(conn)
			return
		}
	}
	conn.Close()
}

// discard closes conn without returning its session to the pool, so a
// session with unknown lock state never serves another caller.
func (k *Locker) discard(conn *sql.Conn) {
	conn.Raw(func(any) error { return driver.ErrBadConn })
	conn.Close()
}

// lost handles an error on the session that carries the upgradable hold.
// Retrying would continue without the mutual exclusion the caller was
// promised, so give the hold up loudly.
func (k *Locker) lost(conn *sql.Conn, err error) {
	k.discard(conn)
	k.mu.Lock()
	k.uconn = nil
	k.mu.Unlock()
	panic(fmt.Errorf(`%w: %w`, ErrHoldLost, err))
}

func advisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}
