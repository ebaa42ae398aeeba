package librarian

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"github.com/fyrsmithlabs/librarycore/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDefinition(t *testing.T, dir string, def libcore.LibrarianDefinition) {
	t.Helper()
	data, err := json.Marshal(def)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, def.Name+".json"), data, 0600))
}

func TestNew_FallsBackToDefaultLibrarian(t *testing.T) {
	r, err := New(Config{}, nil, nil)
	require.NoError(t, err)

	name, err := r.ResolveLibrarian(context.Background(), "unknown-topic", "anything")
	require.NoError(t, err)
	assert.Equal(t, defaultLibrarianName, name)
}

func TestResolveLibrarian_PicksTopicMatch(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, libcore.LibrarianDefinition{Name: "biologist", Topics: []string{"biology"}, BidWeight: 0.9})

	r, err := New(Config{DefinitionsDir: dir}, nil, nil)
	require.NoError(t, err)

	name, err := r.ResolveLibrarian(context.Background(), "biology", "cell structure")
	require.NoError(t, err)
	assert.Equal(t, "biologist", name)
}

func TestResolveLibrarian_ClosesGapViaArbitration(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, libcore.LibrarianDefinition{Name: "a", Topics: []string{"physics"}, BidWeight: 0.5})
	writeDefinition(t, dir, libcore.LibrarianDefinition{Name: "b", Topics: []string{"physics"}, BidWeight: 0.5})

	gen := providers.NewStubGenerator("a")
	r, err := New(Config{DefinitionsDir: dir, SelfResolutionGap: 0.3}, gen, nil)
	require.NoError(t, err)

	name, err := r.ResolveLibrarian(context.Background(), "physics", "quantum mechanics")
	require.NoError(t, err)
	assert.Contains(t, []string{"a", "b"}, name)
}

func TestSpawnSpecialist_NoGeneratorReturnsNotNeeded(t *testing.T) {
	r, err := New(Config{}, nil, nil)
	require.NoError(t, err)

	_, err = r.SpawnSpecialist(context.Background(), "topic", []string{"entry"})
	assert.ErrorIs(t, err, libcore.ErrSpecialistNotNeeded)
}

func TestSpawnSpecialist_GeneratorDeclines(t *testing.T) {
	gen := providers.NewStubGenerator("NO")
	r, err := New(Config{}, gen, nil)
	require.NoError(t, err)

	_, err = r.SpawnSpecialist(context.Background(), "topic", []string{"entry"})
	assert.ErrorIs(t, err, libcore.ErrSpecialistNotNeeded)
}

func TestSpawnSpecialist_GeneratorApproves(t *testing.T) {
	gen := providers.NewStubGenerator("Focuses on advanced topology.")
	r, err := New(Config{}, gen, nil)
	require.NoError(t, err)

	def, err := r.SpawnSpecialist(context.Background(), "topology", []string{"entry"})
	require.NoError(t, err)
	assert.Equal(t, "topology-specialist", def.Name)
}
