package quadtree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"SkipQuadtree/quadtree/rlu"
)

func newTestTree() *Quadtree {
	return InitRoot(Point{0, 0}, 1000)
}

func TestSearchOnEmptyTreeIsFalse(t *testing.T) {
	tree := newTestTree()
	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	assert.False(t, tree.Search(ctx, Point{1, 1}))
}

func TestInsertThenSearchRoundTrips(t *testing.T) {
	tree := newTestTree()
	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	p := Point{10, -20}
	require.True(t, tree.Insert(ctx, p))
	assert.True(t, tree.Search(ctx, p))
}

func TestInsertOutOfRangeIsRefused(t *testing.T) {
	tree := newTestTree()
	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	ok, reason := tree.InsertReason(ctx, Point{10000, 10000})
	assert.False(t, ok)
	assert.Equal(t, ReasonOutOfRange, reason)
}

func TestInsertDuplicateIsRefused(t *testing.T) {
	tree := newTestTree()
	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	p := Point{5, 5}
	require.True(t, tree.Insert(ctx, p))

	ok, reason := tree.InsertReason(ctx, p)
	assert.False(t, ok)
	assert.Equal(t, ReasonDuplicate, reason)
}

func TestInsertNearDuplicateWithinEpsilonIsRefused(t *testing.T) {
	tree := newTestTree()
	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	p := Point{5, 5}
	require.True(t, tree.Insert(ctx, p))

	q := Point{5 + Epsilon/2, 5}
	ok, reason := tree.InsertReason(ctx, q)
	assert.False(t, ok)
	assert.Equal(t, ReasonDuplicate, reason)
}

func TestRemoveThenSearchIsFalse(t *testing.T) {
	tree := newTestTree()
	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	p := Point{1, 2}
	require.True(t, tree.Insert(ctx, p))
	require.True(t, tree.Remove(ctx, p))
	assert.False(t, tree.Search(ctx, p))
}

func TestRemoveMissingPointIsRefused(t *testing.T) {
	tree := newTestTree()
	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	ok, reason := tree.RemoveReason(ctx, Point{3, 3})
	assert.False(t, ok)
	assert.Equal(t, ReasonNotFound, reason)
}

func TestRemoveOutOfRangeIsRefused(t *testing.T) {
	tree := newTestTree()
	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	ok, reason := tree.RemoveReason(ctx, Point{1e9, 1e9})
	assert.False(t, ok)
	assert.Equal(t, ReasonOutOfRange, reason)
}

// TestCollisionSplitsIntoSquare exercises the case where two points land
// in the same quadrant slot, forcing a new square to be split off and,
// if they are very close together, repeatedly shrunk until the two
// points fall into different quadrants of it.
func TestCollisionSplitsIntoSquare(t *testing.T) {
	tree := newTestTree()
	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	a := Point{100, 100}
	b := Point{100.001, 100.001} // same top-level quadrant as a, but distinct

	require.True(t, tree.Insert(ctx, a))
	require.True(t, tree.Insert(ctx, b))

	assert.True(t, tree.Search(ctx, a))
	assert.True(t, tree.Search(ctx, b))
}

// TestRemoveCompressesSplitSquare inserts a colliding pair (forcing a
// split) then removes one of them, and expects the survivor to still
// be findable and the victim gone — the compression cascade must not
// corrupt the surviving half of the split.
func TestRemoveCompressesSplitSquare(t *testing.T) {
	tree := newTestTree()
	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	a := Point{100, 100}
	b := Point{100.001, 100.001}

	require.True(t, tree.Insert(ctx, a))
	require.True(t, tree.Insert(ctx, b))
	require.True(t, tree.Remove(ctx, a))

	assert.False(t, tree.Search(ctx, a))
	assert.True(t, tree.Search(ctx, b))
}

func TestManyPointsAllFindable(t *testing.T) {
	tree := newTestTree()
	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	points := []Point{
		{1, 1}, {-1, 1}, {1, -1}, {-1, -1},
		{100, 200}, {-300, 50}, {-100, -400}, {250, -250},
		{0.5, 0.5}, {0.5, -0.5},
	}

	for _, p := range points {
		require.True(t, tree.Insert(ctx, p))
	}
	for _, p := range points {
		assert.True(t, tree.Search(ctx, p), "point %v should be findable", p)
	}

	require.True(t, tree.Remove(ctx, points[0]))
	assert.False(t, tree.Search(ctx, points[0]))
	for _, p := range points[1:] {
		assert.True(t, tree.Search(ctx, p), "point %v should survive an unrelated removal", p)
	}
}

// TestInsertGrowsTopOnForcedCoinFlips uses a scripted RNG that always
// wins the top-growth coin flip a fixed number of times before losing,
// verifying Insert materializes the point reachable from whatever
// level the growth loop stopped at.
func TestInsertGrowsTopOnForcedCoinFlips(t *testing.T) {
	tree := newTestTree()
	ctx := rlu.ThreadInitWithRNG(rlu.NewScriptedRNG(0, 0, 0, 99))
	defer ctx.ThreadFinish()

	p := Point{42, 42}
	require.True(t, tree.Insert(ctx, p))
	assert.True(t, tree.Search(ctx, p))

	top := tree.root
	levels := 1
	for top.up != nil {
		top = top.up
		levels++
	}
	assert.GreaterOrEqual(t, levels, 2, "a scripted run of growth-coin wins must add at least one level above the original root")
}

func TestFreeCountsNodesAndLevels(t *testing.T) {
	tree := newTestTree()
	ctx := rlu.ThreadInitWithRNG(rlu.NewScriptedRNG(0, 99))
	defer ctx.ThreadFinish()

	require.True(t, tree.Insert(ctx, Point{1, 1}))
	require.True(t, tree.Insert(ctx, Point{-1, -1}))

	result := tree.Free(ctx)
	assert.GreaterOrEqual(t, result.Levels, 1)
	assert.GreaterOrEqual(t, result.TotalNodes, result.LeafNodes)
	assert.Greater(t, result.LeafNodes, 0)
}

// TestConcurrentInsertSearchRemove drives many goroutines, each with
// its own Context, inserting and then removing disjoint points while
// readers continuously search — the tree must never show a torn or
// corrupted view regardless of interleaving.
func TestConcurrentInsertSearchRemove(t *testing.T) {
	tree := newTestTree()

	const workers = 16
	points := make([]Point, workers)
	for i := range points {
		points[i] = Point{float64(i) - float64(workers)/2, float64(i)*2 - float64(workers)}
	}

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		p := points[i]
		g.Go(func() error {
			ctx := rlu.ThreadInit()
			defer ctx.ThreadFinish()

			if !tree.Insert(ctx, p) {
				return fmt.Errorf("insert failed for %v", p)
			}
			if !tree.Search(ctx, p) {
				return fmt.Errorf("search failed right after insert for %v", p)
			}
			if !tree.Remove(ctx, p) {
				return fmt.Errorf("remove failed for %v", p)
			}
			if tree.Search(ctx, p) {
				return fmt.Errorf("point still found after remove for %v", p)
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())
}
