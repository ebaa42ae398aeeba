package graphindex

import (
	"bytes"
	"testing"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func otherIDs(neighbors []Neighbor) []string {
	out := make([]string, len(neighbors))
	for i, n := range neighbors {
		out[i] = n.OtherID
	}
	return out
}

func TestAddEdge_CreatesInverse(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("a", "b", libcore.EdgeParent, libcore.EdgeExplicit))

	assert.Contains(t, otherIDs(g.Neighbors("a", libcore.EdgeParent)), "b")
	assert.Contains(t, otherIDs(g.Neighbors("b", libcore.EdgeChild)), "a")
}

func TestAddEdge_SymmetricTypeMirrorsItself(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("a", "b", libcore.EdgeRelated, libcore.EdgeExplicit))

	assert.Contains(t, otherIDs(g.Neighbors("a", libcore.EdgeRelated)), "b")
	assert.Contains(t, otherIDs(g.Neighbors("b", libcore.EdgeRelated)), "a")
}

func TestAddEdge_Idempotent(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("a", "b", libcore.EdgeSupports, libcore.EdgeExplicit))
	require.NoError(t, g.AddEdge("a", "b", libcore.EdgeSupports, libcore.EdgeExplicit))

	neighbors := g.Neighbors("a", libcore.EdgeSupports)
	assert.Len(t, neighbors, 1)
}

func TestAddEdge_RejectsSelfLoop(t *testing.T) {
	g := New()
	err := g.AddEdge("a", "a", libcore.EdgeRelated, libcore.EdgeExplicit)
	assert.Error(t, err)
}

func TestNeighbors_CarriesEdgeTypeAndOrigin(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("a", "b", libcore.EdgeParent, libcore.EdgeExplicit))

	neighbors := g.Neighbors("b", libcore.EdgeChild)
	require.Len(t, neighbors, 1)
	assert.Equal(t, libcore.EdgeChild, neighbors[0].Edge.Type)
	assert.Equal(t, libcore.EdgeExplicit, neighbors[0].Edge.Origin)
	assert.Equal(t, "a", neighbors[0].OtherID)
}

func TestTraverse_RespectsMaxDepth(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("a", "b", libcore.EdgeRelated, libcore.EdgeExplicit))
	require.NoError(t, g.AddEdge("b", "c", libcore.EdgeRelated, libcore.EdgeExplicit))
	require.NoError(t, g.AddEdge("c", "d", libcore.EdgeRelated, libcore.EdgeExplicit))

	hits := g.Traverse("a", 2, "")
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].VolumeID)
	assert.Equal(t, 1, hits[0].Depth)
	assert.Equal(t, []string{"a", "b"}, hits[0].Path)
	assert.Equal(t, "c", hits[1].VolumeID)
	assert.Equal(t, 2, hits[1].Depth)
	assert.Equal(t, []string{"a", "b", "c"}, hits[1].Path)
}

func TestRemoveNode_DropsAllEdges(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("a", "b", libcore.EdgeRelated, libcore.EdgeExplicit))
	g.RemoveNode("b")

	assert.NotContains(t, otherIDs(g.Neighbors("a", libcore.EdgeRelated)), "b")
}

func TestSnapshotRoundTrip(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("a", "b", libcore.EdgeParent, libcore.EdgeExplicit))
	require.NoError(t, g.AddEdge("b", "c", libcore.EdgeSupports, libcore.EdgeDerived))

	var buf bytes.Buffer
	_, err := g.WriteTo(&buf)
	require.NoError(t, err)

	restored := New()
	_, err = restored.ReadFrom(&buf)
	require.NoError(t, err)

	assert.Contains(t, otherIDs(restored.Neighbors("a", libcore.EdgeParent)), "b")
	assert.Contains(t, otherIDs(restored.Neighbors("c", libcore.EdgeSupportedBy)), "b")

	neighbors := restored.Neighbors("c", libcore.EdgeSupportedBy)
	require.Len(t, neighbors, 1)
	assert.Equal(t, libcore.EdgeDerived, neighbors[0].Edge.Origin)
}
