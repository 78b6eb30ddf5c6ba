package rlu

// Syncable is the contract a node type must satisfy to participate in
// the optimistic read/write discipline. T is the concrete node type
// (e.g. quadtree.Node); the type parameter lets this package stay free
// of any dependency on the tree engine it serializes access for.
type Syncable[T any] interface {
	*T

	// TryAcquire attempts to claim exclusive write intent, CASing the
	// node's lock word from free to id. Returns false if another
	// context already holds it.
	TryAcquire(id uint64) bool
	// Unlock releases write intent unconditionally.
	Unlock()
	// LockedBy returns the id currently holding write intent, or 0.
	LockedBy() uint64
	// Clone returns a private working copy for the caller to mutate
	// speculatively; the original is left untouched until Publish.
	Clone() *T
	// Publish overwrites the receiver's fields with src's, making a
	// speculative write visible to every holder of the original
	// pointer. Called only once quiescence guarantees no concurrent
	// reader can observe the overwrite mid-flight.
	Publish(src *T)
	// SetCopy/Copy record the node's own private working copy so a
	// second Deref by the same owning context (reached through a
	// different pointer than the one TryLock was called on) observes
	// this context's own speculative edits rather than stale data.
	SetCopy(*T)
	Copy() *T
}

// TryLock attempts to acquire exclusive write access to node. On
// success it returns a private working copy the caller mutates from
// then on — node itself (the stable identity every other pointer in
// the tree refers to) is left untouched until Commit publishes the
// copy's fields into it. The acquisition is recorded in ctx's
// write-log for the later Commit or Abort. On failure the caller must
// Abort the whole operation and retry; node is never partially
// mutated by a failed TryLock.
//
// Callers must keep using node (not the returned copy) whenever they
// hand this node's identity to another field — e.g. linking a new
// node's down pointer to it — since the copy's address stops being
// meaningful once Commit discards it.
func TryLock[T any, PT Syncable[T]](ctx *Context, node PT) (PT, bool) {
	if node == nil {
		return node, false
	}
	if !node.TryAcquire(ctx.id) {
		return node, false
	}
	cp := PT(node.Clone())
	node.SetCopy(cp)

	ctx.log = append(ctx.log, logEntry{
		commit: func() {
			node.Publish(cp)
			node.SetCopy(nil)
			node.Unlock()
		},
		abort: func() {
			node.SetCopy(nil)
			node.Unlock()
		},
	})
	return cp, true
}

// Deref returns the node a read should observe: if node is currently
// locked by ctx itself, its private working copy (so a writer's own
// chained traversal sees its own pending edits); otherwise node
// unchanged, since a concurrent writer's edits are invisible until
// Commit publishes them.
func Deref[T any, PT Syncable[T]](ctx *Context, node PT) PT {
	if node == nil {
		return node
	}
	if node.LockedBy() == ctx.id {
		if cp := node.Copy(); cp != nil {
			return PT(cp)
		}
	}
	return node
}

// Assign performs a pointer/field store that becomes visible atomically
// on commit. In this realization the store always targets a private
// working copy already returned by TryLock, so Assign is a thin,
// intention-revealing wrapper over a plain field write rather than
// additional machinery — it exists to name the operation spec.md's
// contract calls out.
func Assign[T any](field *T, value T) {
	*field = value
}

// Abort discards every speculative change made so far in this
// operation and releases every lock ctx holds, in the reverse order
// they were acquired.
func (ctx *Context) Abort() {
	for i := len(ctx.log) - 1; i >= 0; i-- {
		ctx.log[i].abort()
	}
	ctx.log = ctx.log[:0]
	ctx.retired = ctx.retired[:0]
	ctx.active.Store(false)
}

// Commit closes a write session opened with BeginRead: it marks ctx
// itself inactive (so two committing writers never wait on each
// other), waits for quiescence of every reader that started before
// this point (so no one can observe a torn update), publishes every
// logged speculative write in place, releasing each node's lock as its
// copy is published, advances the global version, and then drops
// references to any nodes retired with Free so the garbage collector
// can reclaim them.
//
// The publish loop and the clock bump run under publishGate's write
// side, so any BeginRead racing the loop blocks until it is done rather
// than slipping in with a pre-increment snapshot and a raw, possibly
// half-published node from Deref. quiesce itself runs outside the gate,
// so a slow-draining reader only delays the brief publish step, not
// every new reader in the system.
func (ctx *Context) Commit() {
	if len(ctx.log) == 0 {
		ctx.EndRead()
		return
	}

	ctx.active.Store(false)
	ctx.quiesce()

	publishGate.Lock()
	for _, entry := range ctx.log {
		entry.commit()
	}
	globalClock.Add(1)
	publishGate.Unlock()

	for _, r := range ctx.retired {
		r.drop()
	}

	ctx.log = ctx.log[:0]
	ctx.retired = ctx.retired[:0]
	ctx.active.Store(false)
}

// Free retires node: once this operation commits and quiesces, every
// reference this package holds to it is dropped so Go's garbage
// collector can reclaim it. Go's GC makes explicit deallocation
// unnecessary; Free still honors spec.md's retirement-timing contract
// (a freed node is not released until concurrent readers that could
// have observed it have drained) by deferring the drop to Commit.
func Free[T any, PT Syncable[T]](ctx *Context, node PT) {
	ctx.retired = append(ctx.retired, retiredNode{drop: func() {
		node.SetCopy(nil)
	}})
}
