// Package rlu implements the optimistic read/write synchronization
// discipline the tree engine is built on, modeled on RLU (Read-Log-Update):
// per-operation read sessions, speculative writes
// through private per-node copies with try-lock semantics, and a
// reader-quiescence wait on commit. See spec.md §4.3 and §5.
package rlu

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// globalClock is the version counter advanced on every committed write.
var globalClock atomic.Uint64

// registry tracks every Context that has called ThreadInit and not yet
// called ThreadFinish, keyed by its id. A committing writer consults it
// to find readers it must wait to drain.
var registry sync.Map // map[uint64]*Context

// publishGate closes the window between quiesce returning and the
// publish loop's Node.Publish calls actually landing. quiesce only
// waits for readers that were already active when it scanned the
// registry; without this gate a brand-new BeginRead arriving in that
// window would record a pre-increment snapshot (globalClock.Add(1)
// hasn't run yet) and Deref would hand it the node mid-Publish, a torn
// read. Commit holds the write side only around the publish loop, not
// around quiesce itself, so a long quiescence wait never blocks new
// readers — only the brief copy-back does.
var publishGate sync.RWMutex

// Context is the per-goroutine handle spec.md calls "per-thread state":
// a unique id, an injectable RNG, the write-log of nodes locked during
// the operation currently in flight, and the read-session bookkeeping
// used for quiescence. A Context must never be shared between
// goroutines — it is purely thread-local, mirroring spec.md §5.
type Context struct {
	id  uint64
	rng RNG

	active   atomic.Bool
	snapshot atomic.Uint64

	log     []logEntry
	retired []retiredNode
}

type logEntry struct {
	commit func()
	abort  func()
}

type retiredNode struct {
	drop func()
}

// ThreadInit allocates and registers a new per-goroutine context using
// the default RNG. It must be called once before the calling goroutine
// issues any tree operation, and paired with ThreadFinish before the
// goroutine exits.
func ThreadInit() *Context {
	return ThreadInitWithRNG(defaultRNG{})
}

// ThreadInitWithRNG is ThreadInit with an injected RNG, used by tests
// that need a scripted top-growth sequence.
func ThreadInitWithRNG(rng RNG) *Context {
	id := newContextID()
	ctx := &Context{id: id, rng: rng}
	registry.Store(id, ctx)
	return ctx
}

// newContextID mints a unique per-thread identifier. A real uuid is
// used (rather than a small integer counter) so ids never collide even
// across process restarts of a long-lived benchmark, and so a lock word
// of 0 unambiguously means "free" — no real Context ever receives id 0.
func newContextID() uint64 {
	u := uuid.New()
	v := uint64(0)
	for _, b := range u[:8] {
		v = v<<8 | uint64(b)
	}
	if v == 0 {
		v = 1
	}
	return v
}

// ThreadFinish deregisters ctx. The context must not be used afterward.
func (ctx *Context) ThreadFinish() {
	registry.Delete(ctx.id)
}

// ID returns the context's unique identifier, used as the lock owner
// tag on nodes it acquires.
func (ctx *Context) ID() uint64 {
	return ctx.id
}

// Intn draws from the context's injected RNG.
func (ctx *Context) Intn(n int) int {
	return ctx.rng.Intn(n)
}

// BeginRead opens a read session: a bracketed region within which every
// pointer dereference through Deref sees a consistent snapshot of the
// tree. Readers never block and never take locks, save for the brief
// RLock below that only contends with an in-progress publish loop, not
// with quiesce or with other readers.
func (ctx *Context) BeginRead() {
	publishGate.RLock()
	ctx.snapshot.Store(globalClock.Load())
	ctx.active.Store(true)
	publishGate.RUnlock()
}

// EndRead closes a read-only session. For sessions that acquired no
// locks this simply deregisters the context as an active reader. Use
// Commit instead to close a session that performed speculative writes.
func (ctx *Context) EndRead() {
	ctx.active.Store(false)
}

// quiesce blocks until every other registered context that began a read
// session at or before ctx's own commit point has ended that session.
// It is the "wait until all readers that started before the commit have
// drained" step spec.md §4.3 requires before a commit's effects are
// safe to observe without risk of a torn read.
func (ctx *Context) quiesce() {
	target := globalClock.Load()
	registry.Range(func(key, value any) bool {
		other := value.(*Context)
		if other == ctx {
			return true
		}
		for other.active.Load() && other.snapshot.Load() <= target {
			runtime.Gosched()
		}
		return true
	})
}
