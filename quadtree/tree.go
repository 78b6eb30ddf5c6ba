package quadtree

import "SkipQuadtree/quadtree/rlu"

// Reason classifies why a write operation did or did not take effect.
// InsertReason and RemoveReason expose it alongside the plain boolean
// result so callers that care — tests, and the benchmark harness's
// counters — can tell a genuine refusal (duplicate point, point out of
// range, nothing to remove) apart from a contention failure that
// outlasted every retry. Aborts that a later attempt recovered from
// are not reported.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonDuplicate
	ReasonNotFound
	ReasonOutOfRange
	ReasonContention
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonDuplicate:
		return "duplicate"
	case ReasonNotFound:
		return "not-found"
	case ReasonOutOfRange:
		return "out-of-range"
	case ReasonContention:
		return "contention"
	default:
		return "unknown"
	}
}

// Quadtree is a concurrent, in-memory D-dimensional compressed skip
// quadtree: a tower of path-compressed quadtrees over the same region,
// linked level to level, offering expected O(log n) search, insert and
// remove under concurrent readers and writers.
type Quadtree struct {
	root *Node
}

// InitRoot builds an empty quadtree covering the square with the given
// center and side length. That square is both the bottom and, until
// the first insert grows it, the only level.
func InitRoot(center Point, length float64) *Quadtree {
	return &Quadtree{root: newSquare(center, length)}
}

// Search reports whether p is currently indexed. It takes no locks: a
// single read session walks from the current top level down through
// up/down links, descending one square at a time toward p until it
// finds a matching leaf, falls out of range, or exhausts every level.
func (q *Quadtree) Search(ctx *rlu.Context, p Point) bool {
	ctx.BeginRead()
	defer ctx.EndRead()

	node := rlu.Deref(ctx, q.root)
	for up := rlu.Deref(ctx, node.up); up != nil; up = rlu.Deref(ctx, node.up) {
		node = up
	}

	for node != nil {
		if !InRange(node.center, node.length, p) {
			return false
		}
		child := rlu.Deref(ctx, node.children[Quadrant(node.center, p)])
		if child != nil && child.isLeaf() && child.center.Equal(p) {
			return true
		}
		if child != nil && child.isSquare() {
			node = child
			continue
		}
		node = rlu.Deref(ctx, node.down)
	}
	return false
}

// Insert adds p to the index. It attempts its body up to MaxRetries
// times in total on contention aborts before giving up; any other refusal
// (duplicate, out of range) returns immediately without retrying.
func (q *Quadtree) Insert(ctx *rlu.Context, p Point) bool {
	ok, _ := q.InsertReason(ctx, p)
	return ok
}

// InsertReason is Insert plus the reason for the outcome.
func (q *Quadtree) InsertReason(ctx *rlu.Context, p Point) (bool, Reason) {
	if !InRange(q.root.center, q.root.length, p) {
		return false, ReasonOutOfRange
	}

	var last Reason
	for attempt := 0; attempt < MaxRetries; attempt++ {
		ctx.BeginRead()
		ok, reason := q.tryInsert(ctx, p)
		if ok {
			ctx.Commit()
			return true, ReasonOK
		}
		ctx.Abort()
		last = reason
		if reason != ReasonContention {
			return false, reason
		}
	}
	return false, last
}

func (q *Quadtree) tryInsert(ctx *rlu.Context, p Point) (bool, Reason) {
	node := rlu.Deref(ctx, q.root)

	for ctx.Intn(100) < TopGrowthPercent {
		up := rlu.Deref(ctx, node.up)
		if up == nil {
			nodeCp, ok := rlu.TryLock(ctx, node)
			if !ok {
				return false, ReasonContention
			}
			newTop := newSquare(node.center, node.length)
			newTop.down = node
			rlu.Assign(&nodeCp.up, newTop)
			up = newTop
		}
		node = up
	}

	gapDepth := 0
	for up := rlu.Deref(ctx, node.up); up != nil; up = rlu.Deref(ctx, node.up) {
		gapDepth++
		node = up
	}

	_, reason := addAt(ctx, node, p, gapDepth)
	return reason == ReasonOK, reason
}

// addAt is the recursive descent that materializes p starting from
// node, gapDepth levels above the level at which it should actually
// come into existence. Levels above that point are passed through
// untouched; from gapDepth 0 down to the bottom, p is linked in at
// every level, splitting a square out of a collision when necessary.
func addAt(ctx *rlu.Context, node *Node, p Point, gapDepth int) (*Node, Reason) {
	if !InRange(node.center, node.length, p) {
		return nil, ReasonOutOfRange
	}

	parent := node
	child := rlu.Deref(ctx, parent.children[Quadrant(parent.center, p)])
	for child != nil && child.isSquare() && InRange(child.center, child.length, p) {
		parent = child
		child = rlu.Deref(ctx, parent.children[Quadrant(parent.center, p)])
	}

	if gapDepth == 0 && child != nil && child.isLeaf() && child.center.Equal(p) {
		return nil, ReasonDuplicate
	}

	var downNode *Node
	if down := rlu.Deref(ctx, parent.down); down != nil {
		nextGap := 0
		if gapDepth > 0 {
			nextGap = gapDepth - 1
		}
		dn, reason := addAt(ctx, down, p, nextGap)
		if reason != ReasonOK {
			return nil, reason
		}
		downNode = dn
	}

	if gapDepth > 0 {
		return downNode, ReasonOK
	}

	newNode := newLeaf(p, parent.length/2)
	newNode.parent = parent

	if downNode != nil {
		downCp, ok := rlu.TryLock(ctx, downNode)
		if !ok {
			return nil, ReasonContention
		}
		newNode.down = downNode
		rlu.Assign(&downCp.up, newNode)
	}

	q := Quadrant(parent.center, p)
	existing := rlu.Deref(ctx, parent.children[q])

	if existing == nil {
		parentCp, ok := rlu.TryLock(ctx, parent)
		if !ok {
			return nil, ReasonContention
		}
		parentCp.children[q] = newNode
		return newNode, ReasonOK
	}

	// Collision: parent's slot for this quadrant is already occupied by
	// sibling, which is either a leaf or a square that does not contain
	// p (a square containing p would have been descended into above).
	// Split a new square out of
	// the slot, shrinking it one quadrant at a time until newNode and
	// sibling separate into different quadrants.
	sibling := existing
	squareQuadrant := q
	square := newSquare(NewCenter(parent.center, parent.length, q), parent.length/2)
	square.parent = parent

	var quadrant int
	for {
		siblingQuadrant := Quadrant(square.center, sibling.center)
		quadrant = Quadrant(square.center, newNode.center)
		if siblingQuadrant != quadrant {
			square.children[quadrant] = newNode
			square.children[siblingQuadrant] = sibling
			break
		}
		square.center = NewCenter(square.center, square.length, quadrant)
		square.length /= 2
	}

	if down := rlu.Deref(ctx, parent.down); down != nil {
		downSquare := down
		for !(downSquare.center.Equal(square.center) && lengthEqual(downSquare.length, square.length)) {
			downSquare = rlu.Deref(ctx, downSquare.children[Quadrant(downSquare.center, square.center)])
		}
		downSquareCp, ok := rlu.TryLock(ctx, downSquare)
		if !ok {
			return nil, ReasonContention
		}
		square.down = downSquare
		rlu.Assign(&downSquareCp.up, square)
	}

	parentCp, ok := rlu.TryLock(ctx, parent)
	if !ok {
		return nil, ReasonContention
	}
	siblingCp, ok := rlu.TryLock(ctx, sibling)
	if !ok {
		return nil, ReasonContention
	}
	parentCp.children[squareQuadrant] = square
	newNode.parent = square
	rlu.Assign(&siblingCp.parent, square)

	return newNode, ReasonOK
}

// Remove deletes p from the index if present, cascading compression up
// through now-single-child squares and across every up/down level the
// point was materialized at. Like Insert, it retries on contention.
func (q *Quadtree) Remove(ctx *rlu.Context, p Point) bool {
	ok, _ := q.RemoveReason(ctx, p)
	return ok
}

// RemoveReason is Remove plus the reason for the outcome.
func (q *Quadtree) RemoveReason(ctx *rlu.Context, p Point) (bool, Reason) {
	if !InRange(q.root.center, q.root.length, p) {
		return false, ReasonOutOfRange
	}

	var last Reason
	for attempt := 0; attempt < MaxRetries; attempt++ {
		ctx.BeginRead()
		ok, reason := q.tryRemove(ctx, p)
		if ok {
			ctx.Commit()
			return true, ReasonOK
		}
		ctx.Abort()
		last = reason
		if reason != ReasonContention {
			return false, reason
		}
	}
	return false, last
}

func (q *Quadtree) tryRemove(ctx *rlu.Context, p Point) (bool, Reason) {
	node := rlu.Deref(ctx, q.root)
	for up := rlu.Deref(ctx, node.up); up != nil; up = rlu.Deref(ctx, node.up) {
		node = up
	}
	return removeHelper(ctx, node, p)
}

// removeHelper locates the leaf storing p, descending levels via down
// when the current level has nothing more to offer, then hands off to
// removeNode for the actual unlink-and-compress cascade.
func removeHelper(ctx *rlu.Context, node *Node, p Point) (bool, Reason) {
	if !InRange(node.center, node.length, p) {
		return false, ReasonOutOfRange
	}

	q := Quadrant(node.center, p)
	child := rlu.Deref(ctx, node.children[q])

	switch {
	case child == nil:
		down := rlu.Deref(ctx, node.down)
		if down == nil {
			return false, ReasonNotFound
		}
		return removeHelper(ctx, down, p)
	case child.isSquare() && InRange(child.center, child.length, p):
		return removeHelper(ctx, child, p)
	case child.isLeaf() && child.center.Equal(p):
		return removeNode(ctx, child)
	default:
		down := rlu.Deref(ctx, node.down)
		if down == nil {
			return false, ReasonNotFound
		}
		return removeHelper(ctx, down, p)
	}
}

// removeNode unlinks n from the tree and compresses whatever it leaves
// behind: a square reduced to a single child is replaced in its
// parent's slot by that child (preserving the parent's cardinality, so
// the parent itself needs no further check); otherwise n's old slot is
// simply cleared, and the parent — having lost a child — is
// recursively considered for the same treatment. Either way, the
// up/down neighbors n was spliced between are unlinked and, if they
// are themselves now eligible, cascaded into as well.
//
// Failures from the recursive cascade calls are swallowed unless they
// are contention: a cascade step declining to compress further (too
// many children, no parent left) is an ordinary stopping condition,
// not a reason to fail the whole operation, but contention anywhere
// in the chain must abort and retry the entire Remove rather than
// leave compression silently half-done.
func removeNode(ctx *rlu.Context, n *Node) (bool, Reason) {
	parentOrig := rlu.Deref(ctx, n.parent)
	downOrig := rlu.Deref(ctx, n.down)
	upOrig := rlu.Deref(ctx, n.up)

	if parentOrig == nil && downOrig == nil {
		return false, ReasonNotFound
	}

	if n.isSquare() {
		count := n.childCount()
		if count > 1 {
			return false, ReasonNotFound
		}
		if count == 1 {
			if parentOrig == nil {
				return false, ReasonNotFound
			}
			child := rlu.Deref(ctx, n.singleChild())

			parentCp, ok := rlu.TryLock(ctx, parentOrig)
			if !ok {
				return false, ReasonContention
			}
			childCp, ok := rlu.TryLock(ctx, child)
			if !ok {
				return false, ReasonContention
			}
			q := Quadrant(parentOrig.center, n.center)
			parentCp.children[q] = child
			rlu.Assign(&childCp.parent, parentOrig)

			if err := detachUpDown(ctx, upOrig, downOrig); err != ReasonOK {
				return false, err
			}
			rlu.Free(ctx, n)

			if upOrig != nil {
				if ok, reason := removeNode(ctx, upOrig); !ok && reason == ReasonContention {
					return false, reason
				}
			}
			if downOrig != nil {
				if ok, reason := removeNode(ctx, downOrig); !ok && reason == ReasonContention {
					return false, reason
				}
			}
			return true, ReasonOK
		}
	}

	// n is a leaf, or a childless square: its slot is simply cleared and
	// the parent's cardinality genuinely drops, warranting a recheck.
	var parentCp *Node
	if parentOrig != nil {
		cp, ok := rlu.TryLock(ctx, parentOrig)
		if !ok {
			return false, ReasonContention
		}
		parentCp = cp
		q := Quadrant(parentOrig.center, n.center)
		if parentCp.children[q] == n {
			parentCp.children[q] = nil
		}
	}

	if err := detachUpDown(ctx, upOrig, downOrig); err != ReasonOK {
		return false, err
	}
	rlu.Free(ctx, n)

	if parentOrig != nil && parentCp.childCount() < 2 {
		if ok, reason := removeNode(ctx, parentOrig); !ok && reason == ReasonContention {
			return false, reason
		}
	}
	if upOrig != nil {
		if ok, reason := removeNode(ctx, upOrig); !ok && reason == ReasonContention {
			return false, reason
		}
	}
	if downOrig != nil {
		if ok, reason := removeNode(ctx, downOrig); !ok && reason == ReasonContention {
			return false, reason
		}
	}

	return true, ReasonOK
}

// detachUpDown severs the up/down link between a node being removed
// and its vertical neighbors, locking each neighbor before clearing
// its side of the link.
func detachUpDown(ctx *rlu.Context, up, down *Node) Reason {
	if up != nil {
		upCp, ok := rlu.TryLock(ctx, up)
		if !ok {
			return ReasonContention
		}
		upCp.down = nil
	}
	if down != nil {
		downCp, ok := rlu.TryLock(ctx, down)
		if !ok {
			return ReasonContention
		}
		downCp.up = nil
	}
	return ReasonOK
}

// FreeResult summarizes a completed teardown.
type FreeResult struct {
	TotalNodes int
	LeafNodes  int
	Levels     int
}

// Free tears down every level of the tree. It takes no locks and must
// only be called once no other goroutine holds a reference to the
// tree — the same single-owner contract spec.md's teardown operation
// describes. ctx is accepted for API symmetry with the other
// operations but unused: teardown bypasses the synchronization layer
// entirely, matching how the original implementation's free path
// never acquires the RLU lock either.
func (q *Quadtree) Free(ctx *rlu.Context) FreeResult {
	var result FreeResult

	top := q.root
	for top.up != nil {
		top = top.up
	}

	for level := top; level != nil; {
		next := level.down
		freeLevel(level, &result)
		result.Levels++
		level = next
	}

	return result
}

func freeLevel(n *Node, result *FreeResult) {
	if n.isSquare() {
		for i, c := range n.children {
			if c != nil {
				freeLevel(c, result)
				n.children[i] = nil
			}
		}
	}
	if n.up != nil {
		n.up.down = nil
	}
	if n.down != nil {
		n.down.up = nil
	}
	result.TotalNodes++
	if n.isLeaf() {
		result.LeafNodes++
	}
}
