package servicetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wrapped embeds a node the way concrete services do.
type wrapped struct {
	*Node
}

func TestWalkAndFind(t *testing.T) {
	sched := newFakeScheduler()
	root := newTestNode("root", sched, &testLogger{})
	a := newTestNode("a", sched, &testLogger{})
	b := newTestNode("b", sched, &testLogger{})
	require.NoError(t, root.Mount("/a", a, ""))
	require.NoError(t, a.Mount("/b", b, ""))

	var visited []string
	var depths []int
	Walk(root, func(s Service, depth int) bool {
		visited = append(visited, s.Name())
		depths = append(depths, depth)
		return true
	})
	assert.Equal(t, []string{"ROOT", "A", "B"}, visited)
	assert.Equal(t, []int{0, 1, 2}, depths)

	found, ok := Find(root, "B")
	require.True(t, ok)
	assert.Same(t, b, found)
	_, ok = Find(root, "C")
	assert.False(t, ok)

	assert.Equal(t, 2, subtreeHeight(root))
	assert.Equal(t, 2, b.Depth())
}

func TestMountSeesThroughEmbeddedNodes(t *testing.T) {
	sched := newFakeScheduler()
	root := newTestNode("root", sched, &testLogger{})
	mid := wrapped{newTestNode("mid", sched, &testLogger{})}
	leaf := newTestNode("leaf", sched, &testLogger{})

	require.NoError(t, root.Mount("/mid", mid, ""))
	require.NoError(t, mid.Mount("/leaf", leaf, ""))
	assert.Equal(t, 1, mid.Depth())
	assert.Equal(t, 2, leaf.Depth(), "depth propagates through embedded nodes")

	assert.ErrorIs(t, mid.Mount("/root", root, ""), ErrMountCycle)
	assert.ErrorIs(t, mid.Mount("/self", mid, ""), ErrMountSelf)
	assert.ErrorIs(t, newTestNode("other", sched, &testLogger{}).Mount("/mid", mid, ""), ErrAlreadyMounted)
}
