// Package redis implements safelock.RWUpgrader over a Redis instance, so
// lineages in different processes can drive the same check-then-maybe-write
// loop.
//
// Three keys are derived from the lock name, sharing a hash tag so they land
// in the same cluster slot: an intent key (held for the lifetime of an
// upgradable or exclusive hold, taken with SET NX), a reader counter, and a
// writer flag. Plain readers increment the counter through a
// Lua script that refuses while the writer flag is set; Upgrade sets the
// flag, drops its own reader count and polls until the counter drains.
// Writers cannot interleave with an upgrade because every writer path starts
// at the intent key.
//
// Keys carry no TTL: lease expiry and loss notification are out of scope
// here, so holders are trusted to release what they take. A holder that dies
// without releasing wedges the lock, exactly like a process that never
// unlocks an in-process mutex. Blocking is implemented by polling; tune the
// interval with WithPollInterval. Transient errors are retried forever,
// preserving the blocking contract.
package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	goredis "github.com/redis/go-redis/v9"

	"github.com/makcandrov/safelock"
)

var ErrNotHeld = errors.New(`lock not held`)

var _ safelock.RWUpgrader = (*Locker)(nil)

// rlock increments the reader counter unless a writer holds or is draining
// the lock. KEYS[1] = writer flag, KEYS[2] = reader counter.
var rlockScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('INCR', KEYS[2])
return 1
`)

// upgradeScript raises the writer flag and drops the caller's own reader
// count, returning the number of plain readers still in. KEYS[1] = writer
// flag, KEYS[2] = reader counter, ARGV[1] = holder token.
var upgradeScript = goredis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1])
return redis.call('DECR', KEYS[2])
`)

// releaseIntentScript deletes the intent key only if it still carries the
// caller's token. KEYS[1] = intent key, ARGV[1] = holder token.
var releaseIntentScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker provides the reader-writer contract over three Redis keys. All
// methods block, by polling, until the hold is granted.
type Locker struct {
	rdb     goredis.UniversalClient
	intent  string // exclusive among upgradable holders and writers, SET NX
	readers string // count of live plain shared holds
	writer  string // set while a writer drains readers or holds the lock
	log     logr.Logger
	poll    time.Duration

	mu    sync.Mutex
	token string // identifies the current intent hold; empty when none
}

type Option func(*Locker)

func WithLogr(l logr.Logger) Option {
	return func(k *Locker) { k.log = l }
}

// WithPollInterval sets the delay between acquisition attempts.
func WithPollInterval(d time.Duration) Option {
	return func(k *Locker) { k.poll = d }
}

// New builds a Locker over rdb for the named lock. Lockers with the same
// name against the same Redis contend with each other.
func New(rdb goredis.UniversalClient, name string, opts ...Option) *Locker {
	// The hash tag pins all three keys to one cluster slot, so the multi-key
	// scripts work against cluster clients too.
	k := &Locker{
		rdb:     rdb,
		intent:  "{" + name + "}:intent",
		readers: "{" + name + "}:readers",
		writer:  "{" + name + "}:writer",
		log:     logr.Discard(),
		poll:    10 * time.Millisecond,
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

func (k *Locker) ULock() {
	ctx := context.Background()
	token := newToken()

	// The intent key serializes upgradable holders and writers; plain
	// readers are untouched.
	for {
		ok, err := k.rdb.SetNX(ctx, k.intent, token, 0).Result()
		if err != nil {
			k.retry(err)
			continue
		}
		if ok {
			break
		}
		time.Sleep(k.poll)
	}

	// The shared half of the hold. No writer exists (it would hold the
	// intent key), so this is granted immediately.
	for {
		if _, err := k.rdb.Incr(ctx, k.readers).Result(); err != nil {
			k.retry(err)
			continue
		}
		break
	}

	k.mu.Lock()
	k.token = token
	k.mu.Unlock()
}

func (k *Locker) UUnlock() {
	ctx := context.Background()
	token := k.takeToken()

	for {
		if _, err := k.rdb.Decr(ctx, k.readers).Result(); err != nil {
			k.retry(err)
			continue
		}
		break
	}
	k.releaseIntent(token)
}

func (k *Locker) Upgrade() {
	ctx := context.Background()

	k.mu.Lock()
	token := k.token
	k.mu.Unlock()
	if token == "" {
		panic(ErrNotHeld)
	}

	// Raise the writer flag first: new readers are refused from here on, so
	// the drain below terminates.
	var left int64
	for {
		n, err := upgradeScript.Run(ctx, k.rdb, []string{k.writer, k.readers}, token).Int64()
		if err != nil {
			k.retry(err)
			continue
		}
		left = n
		break
	}

	for left > 0 {
		time.Sleep(k.poll)
		n, err := k.rdb.Get(ctx, k.readers).Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			k.retry(err)
			continue
		}
		left = n
	}
}

func (k *Locker) Unlock() {
	ctx := context.Background()
	token := k.takeToken()

	for {
		if _, err := k.rdb.Del(ctx, k.writer).Result(); err != nil {
			k.retry(err)
			continue
		}
		break
	}
	k.releaseIntent(token)
}

func (k *Locker) RLock() {
	ctx := context.Background()

	for {
		ok, err := rlockScript.Run(ctx, k.rdb, []string{k.writer, k.readers}).Int64()
		if err != nil {
			k.retry(err)
			continue
		}
		if ok == 1 {
			return
		}
		time.Sleep(k.poll)
	}
}

func (k *Locker) RUnlock() {
	ctx := context.Background()

	for {
		if _, err := k.rdb.Decr(ctx, k.readers).Result(); err != nil {
			k.retry(err)
			continue
		}
		return
	}
}

func (k *Locker) releaseIntent(token string) {
	ctx := context.Background()
	for {
		if _, err := releaseIntentScript.Run(ctx, k.rdb, []string{k.intent}, token).Result(); err != nil {
			k.retry(err)
			continue
		}
		return
	}
}

func (k *Locker) takeToken() string {
	k.mu.Lock()
	defer k.mu.Unlock()

	token := k.token
	if token == "" {
		panic(ErrNotHeld)
	}
	k.token = ""
	return token
}

func (k *Locker) retry(err error) {
	k.log.Error(err, `Redis lock call failed, retrying.`)
	time.Sleep(k.poll)
}

func newToken() string {
	var b [16]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
