package topiccatalog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_CreatesNewPath(t *testing.T) {
	c := New()
	path, err := c.Resolve("science/biology")
	require.NoError(t, err)
	assert.Equal(t, "science/biology", path)
	assert.Contains(t, c.Sections(), "science")
	assert.Contains(t, c.Sections(), "science/biology")
}

func TestResolve_FoldsFuzzyMatchIntoExistingSibling(t *testing.T) {
	c := New()
	_, err := c.Resolve("machine-learning")
	require.NoError(t, err)

	path, err := c.Resolve("Machine Learning")
	require.NoError(t, err)
	assert.Equal(t, "machine-learning", path)

	node, ok := c.Node("machine-learning")
	require.True(t, ok)
	assert.Contains(t, node.Aliases, "Machine Learning")
}

func TestResolve_AmbiguousMatchCreatesNewNode(t *testing.T) {
	c := New()
	_, err := c.Resolve("cats")
	require.NoError(t, err)
	// "bat" is edit-distance 2 from "cats", beyond its threshold of 1, so it
	// becomes a second sibling.
	_, err = c.Resolve("bat")
	require.NoError(t, err)

	// "bats" is edit-distance 1 from both "cats" and "bat" -> ambiguous,
	// so it becomes its own node rather than folding into either.
	path, err := c.Resolve("bats")
	require.NoError(t, err)
	assert.Equal(t, "bats", path)
}

func TestMerge_MovesVolumesAndRedirectsAliases(t *testing.T) {
	c := New()
	_, err := c.Resolve("animals/mammals")
	require.NoError(t, err)
	_, err = c.Resolve("creatures")
	require.NoError(t, err)
	_, err = c.AddMember("vol-1", "creatures")
	require.NoError(t, err)

	require.NoError(t, c.Merge("creatures", "animals"))

	node, ok := c.Node("animals")
	require.True(t, ok)
	assert.Contains(t, node.Aliases, "creatures")
	assert.Contains(t, node.Volumes, "vol-1")

	_, stillExists := c.Node("creatures")
	assert.False(t, stillExists)

	resolved, err := c.Resolve("creatures")
	require.NoError(t, err)
	assert.Equal(t, "animals", resolved)
}

func TestRelocate_MovesVolumeBetweenTopics(t *testing.T) {
	c := New()
	_, err := c.Resolve("physics")
	require.NoError(t, err)
	_, err = c.Resolve("history")
	require.NoError(t, err)
	_, err = c.AddMember("vol-1", "physics")
	require.NoError(t, err)

	topic, err := c.Relocate("vol-1", "history")
	require.NoError(t, err)
	assert.Equal(t, "history", topic)

	nodeA, ok := c.Node("physics")
	require.True(t, ok)
	assert.NotContains(t, nodeA.Volumes, "vol-1")

	nodeB, ok := c.Node("history")
	require.True(t, ok)
	assert.Contains(t, nodeB.Volumes, "vol-1")
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := New()
	_, err := c.Resolve("science/biology")
	require.NoError(t, err)
	_, err = c.Resolve("Science/Chemistry")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = c.WriteTo(&buf)
	require.NoError(t, err)

	restored := New()
	_, err = restored.ReadFrom(&buf)
	require.NoError(t, err)

	assert.ElementsMatch(t, c.Sections(), restored.Sections())
}
