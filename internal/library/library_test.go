package library

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/librarycore/internal/circulation"
	"github.com/fyrsmithlabs/librarycore/internal/graphindex"
	"github.com/fyrsmithlabs/librarycore/internal/learning"
	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"github.com/fyrsmithlabs/librarycore/internal/librarian"
	"github.com/fyrsmithlabs/librarycore/internal/providers"
	"github.com/fyrsmithlabs/librarycore/internal/stacks"
	"github.com/fyrsmithlabs/librarycore/internal/topiccatalog"
	"github.com/fyrsmithlabs/librarycore/internal/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLibrary(t *testing.T, cfg Config, gen providers.TextGenerationProvider) *Library {
	return newTestLibraryWithStacksConfig(t, cfg, gen, stacks.Config{})
}

func newTestLibraryWithStacksConfig(t *testing.T, cfg Config, gen providers.TextGenerationProvider, stacksCfg stacks.Config) *Library {
	t.Helper()
	s, err := stacks.New(context.Background(), vectorindex.New(8), topiccatalog.New(), graphindex.New(), learning.New(learning.Config{}), nil, stacksCfg, nil)
	require.NoError(t, err)

	desk := circulation.New(circulation.Thresholds{MinEntriesForCompendium: 2}, nil)
	reg, err := librarian.New(librarian.Config{}, gen, nil)
	require.NoError(t, err)

	lib, err := New(s, desk, reg, providers.NewStubEmbedder(8), gen, cfg, nil)
	require.NoError(t, err)
	return lib
}

func TestAdd_StoresAndReturnsID(t *testing.T) {
	lib := newTestLibrary(t, Config{}, nil)
	id, err := lib.Add(context.Background(), "hello world", "science", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, lib.Size())
}

func TestAdd_RejectsEmptyText(t *testing.T) {
	lib := newTestLibrary(t, Config{}, nil)
	_, err := lib.Add(context.Background(), "   ", "science", nil)
	assert.ErrorIs(t, err, libcore.ErrValidation)
}

func TestAdd_ScrubsSecretsBeforeEmbedding(t *testing.T) {
	lib := newTestLibrary(t, Config{ScrubSecrets: true}, nil)
	secret := "sk-ant-REDACTED"
	id, err := lib.Add(context.Background(), "my key is "+secret, "ops", nil)
	require.NoError(t, err)

	vol, ok := lib.GetByID(id)
	require.True(t, ok)
	assert.NotContains(t, vol.Text, secret)
	assert.Contains(t, vol.Text, "[REDACTED:")
}

func TestAddBatch_EmbedsAllTexts(t *testing.T) {
	lib := newTestLibrary(t, Config{}, nil)
	ids, err := lib.AddBatch(context.Background(), []string{"one", "two", "three"}, "topic")
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.Equal(t, 3, lib.Size())
}

func TestDeleteBatch_RemovesEveryID(t *testing.T) {
	lib := newTestLibrary(t, Config{}, nil)
	ids, err := lib.AddBatch(context.Background(), []string{"one", "two"}, "topic")
	require.NoError(t, err)

	require.NoError(t, lib.DeleteBatch(context.Background(), ids))
	assert.Equal(t, 0, lib.Size())
}

func TestClear_RemovesEverything(t *testing.T) {
	lib := newTestLibrary(t, Config{}, nil)
	_, err := lib.Add(context.Background(), "hello", "topic", nil)
	require.NoError(t, err)

	require.NoError(t, lib.Clear(context.Background()))
	assert.Equal(t, 0, lib.Size())
}

func TestSearch_ReturnsNearestByTopic(t *testing.T) {
	lib := newTestLibrary(t, Config{}, nil)
	_, err := lib.Add(context.Background(), "apples and oranges", "food", nil)
	require.NoError(t, err)
	_, err = lib.Add(context.Background(), "rockets and satellites", "food", nil)
	require.NoError(t, err)

	results, err := lib.Search(context.Background(), "food", "apples and oranges", 2, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestAdvancedSearch_RejectsEmptyQuery(t *testing.T) {
	lib := newTestLibrary(t, Config{}, nil)
	_, err := lib.AdvancedSearch(context.Background(), AdvancedSearchRequest{MaxResults: 2})
	assert.ErrorIs(t, err, libcore.ErrValidation)
}

func TestAdvancedSearch_AppliesTopicFilter(t *testing.T) {
	lib := newTestLibrary(t, Config{}, nil)
	_, err := lib.Add(context.Background(), "quantum mechanics and entanglement", "physics", nil)
	require.NoError(t, err)
	_, err = lib.Add(context.Background(), "quantum cooking techniques", "cooking", nil)
	require.NoError(t, err)

	results, err := lib.AdvancedSearch(context.Background(), AdvancedSearchRequest{
		Query:       "quantum",
		MaxResults:  5,
		TopicFilter: []string{"physics"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "physics", results[0].Volume.Topic)
}

func TestAdvancedSearch_GraphBoostRewardsConnectedNeighbors(t *testing.T) {
	lib := newTestLibrary(t, Config{}, nil)
	idA, err := lib.Add(context.Background(), "quantum mechanics", "physics", nil)
	require.NoError(t, err)
	idB, err := lib.Add(context.Background(), "quantum entanglement experiments", "physics", nil)
	require.NoError(t, err)
	require.NoError(t, lib.stacks.AddEdge(idA, idB, libcore.EdgeRelated, libcore.EdgeExplicit))

	results, err := lib.AdvancedSearch(context.Background(), AdvancedSearchRequest{
		Query:      "quantum",
		MaxResults: 5,
		GraphBoost: BoostConfig{Enabled: true, Weight: 0.2},
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		require.NotNil(t, r.GraphBoost)
	}
}

func TestFilterByTopic_ReturnsOnlyMatchingVolumes(t *testing.T) {
	lib := newTestLibrary(t, Config{}, nil)
	_, err := lib.Add(context.Background(), "a", "astronomy", nil)
	require.NoError(t, err)
	_, err = lib.Add(context.Background(), "b", "cooking", nil)
	require.NoError(t, err)

	vols := lib.FilterByTopic("astronomy")
	require.Len(t, vols, 1)
	assert.Equal(t, "a", vols[0].Text)
}

func TestCompendium_NoGeneratorReturnsNotInitialized(t *testing.T) {
	lib := newTestLibrary(t, Config{}, nil)
	id1, err := lib.Add(context.Background(), "one entry", "topic", nil)
	require.NoError(t, err)
	id2, err := lib.Add(context.Background(), "two entry", "topic", nil)
	require.NoError(t, err)

	_, err = lib.Compendium(context.Background(), []string{id1, id2}, false)
	assert.ErrorIs(t, err, libcore.ErrNotInitialized)
}

func TestCompendium_FewerThanTwoIDsReturnsValidationError(t *testing.T) {
	gen := providers.NewStubGenerator("a summary")
	lib := newTestLibrary(t, Config{}, gen)
	id, err := lib.Add(context.Background(), "one entry", "topic", nil)
	require.NoError(t, err)

	_, err = lib.Compendium(context.Background(), []string{id}, false)
	assert.ErrorIs(t, err, libcore.ErrValidation)
}

func TestCompendium_SynthesizesAndInsertsTaggedVolume(t *testing.T) {
	gen := providers.NewStubGenerator("synthesized summary")
	lib := newTestLibrary(t, Config{}, gen)
	id1, err := lib.Add(context.Background(), "entry one", "topic", nil)
	require.NoError(t, err)
	id2, err := lib.Add(context.Background(), "entry two", "topic", nil)
	require.NoError(t, err)

	result, err := lib.Compendium(context.Background(), []string{id1, id2}, false)
	require.NoError(t, err)
	assert.Equal(t, "synthesized summary", result.Text)
	assert.Equal(t, []string{id1, id2}, result.SourceIDs)
	assert.False(t, result.DeletedOriginals)
	assert.Equal(t, 3, lib.Size())

	_, ok1 := lib.GetByID(id1)
	assert.True(t, ok1)
}

func TestCompendium_DeletesOriginalsWhenRequested(t *testing.T) {
	gen := providers.NewStubGenerator("synthesized summary")
	lib := newTestLibrary(t, Config{}, gen)
	id1, err := lib.Add(context.Background(), "entry one", "topic", nil)
	require.NoError(t, err)
	id2, err := lib.Add(context.Background(), "entry two", "topic", nil)
	require.NoError(t, err)

	result, err := lib.Compendium(context.Background(), []string{id1, id2}, true)
	require.NoError(t, err)
	assert.True(t, result.DeletedOriginals)

	_, ok1 := lib.GetByID(id1)
	assert.False(t, ok1)
	_, ok2 := lib.GetByID(id2)
	assert.False(t, ok2)
	assert.Equal(t, 1, lib.Size())
}

func TestCheckDuplicate_DetectsIdenticalText(t *testing.T) {
	lib := newTestLibraryWithStacksConfig(t, Config{}, nil, stacks.Config{DuplicateThreshold: 0.99})
	_, err := lib.Add(context.Background(), "a repeated phrase", "topic", nil)
	require.NoError(t, err)

	_, similarity, isDup, err := lib.CheckDuplicate(context.Background(), "a repeated phrase")
	require.NoError(t, err)
	assert.True(t, isDup)
	assert.Greater(t, similarity, 0.99)
}

func TestGetTopics_ReturnsRegisteredTopics(t *testing.T) {
	lib := newTestLibrary(t, Config{}, nil)
	_, err := lib.Add(context.Background(), "entry", "science/biology", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, lib.GetTopics())
}

func TestDispose_FlushesAndDrains(t *testing.T) {
	lib := newTestLibrary(t, Config{}, nil)
	_, err := lib.Add(context.Background(), "entry", "topic", nil)
	require.NoError(t, err)

	assert.NoError(t, lib.Dispose(context.Background()))
}
