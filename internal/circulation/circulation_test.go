package circulation

import (
	"context"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueExtraction_DrainsToHandler(t *testing.T) {
	d := New(Thresholds{}, nil)

	var got libcore.Job
	d.RegisterHandler(libcore.JobExtraction, func(ctx context.Context, job libcore.Job) error {
		got = job
		return nil
	})

	d.EnqueueExtraction([]string{"a", "b"})
	assert.Equal(t, 1, d.QueueLen())

	d.Drain(context.Background())
	assert.Equal(t, 0, d.QueueLen())
	assert.Equal(t, []string{"a", "b"}, got.VolumeIDs)
}

func TestEnqueueCompendium_SkipsBelowMinEntries(t *testing.T) {
	d := New(Thresholds{MinEntriesForCompendium: 3}, nil)
	d.EnqueueCompendium("topic", []string{"a", "b"})
	assert.Equal(t, 0, d.QueueLen())

	d.EnqueueCompendium("topic", []string{"a", "b", "c"})
	assert.Equal(t, 1, d.QueueLen())
}

func TestDrain_SwallowsHandlerError(t *testing.T) {
	d := New(Thresholds{}, nil)
	d.RegisterHandler(libcore.JobOptimization, func(ctx context.Context, job libcore.Job) error {
		return errors.New("boom")
	})

	d.EnqueueOptimization()
	assert.NotPanics(t, func() { d.Drain(context.Background()) })
	assert.Equal(t, 0, d.QueueLen())
}

func TestDrain_MissingHandlerIsSkippedNotFatal(t *testing.T) {
	d := New(Thresholds{}, nil)
	d.EnqueueReorganization("topic")
	assert.NotPanics(t, func() { d.Drain(context.Background()) })
}

func TestNoteVolumeAdded_EnqueuesReorganizationAtThreshold(t *testing.T) {
	d := New(Thresholds{TopicComplexityThreshold: 2}, nil)

	d.NoteVolumeAdded("topic", 1)
	assert.Equal(t, 0, d.QueueLen())

	d.NoteVolumeAdded("topic", 2)
	require.Equal(t, 1, d.QueueLen())
}

func TestNoteVolumeAdded_EnqueuesOptimizationAtGlobalThreshold(t *testing.T) {
	d := New(Thresholds{GlobalThreshold: 5}, nil)

	d.NoteVolumeAdded("a", 4)
	assert.Equal(t, 0, d.QueueLen())

	d.NoteVolumeAdded("b", 5)
	require.Equal(t, 1, d.QueueLen())
}

func TestShouldEscalate_RespectsThreshold(t *testing.T) {
	d := New(Thresholds{EscalateAtThreshold: 3}, nil)

	d.NoteVolumeAdded("topic", 1)
	d.NoteVolumeAdded("topic", 2)
	assert.False(t, d.ShouldEscalate("topic"))

	d.NoteVolumeAdded("topic", 3)
	assert.True(t, d.ShouldEscalate("topic"))
}

func TestDispose_DrainsRemainingJobs(t *testing.T) {
	d := New(Thresholds{}, nil)
	var ran bool
	d.RegisterHandler(libcore.JobExtraction, func(ctx context.Context, job libcore.Job) error {
		ran = true
		return nil
	})
	d.EnqueueExtraction([]string{"a"})

	d.Dispose(context.Background())
	assert.True(t, ran)
	assert.Equal(t, 0, d.QueueLen())
}
