// Package circulation implements CirculationDesk: the background job
// scheduler driving extraction, compendium synthesis, topic reorganization,
// and storage optimization (spec.md §4.9).
package circulation

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"go.uber.org/zap"
)

// Thresholds configures when CirculationDesk escalates a topic for
// reorganization or proposes a new specialist librarian.
type Thresholds struct {
	TopicComplexityThreshold int
	EscalateAtThreshold      int
	GlobalThreshold          int
	MaxVolumesPerTopic       int
	MinEntriesForCompendium  int
}

// Handler processes a single job kind. CirculationDesk swallows and logs
// any error a Handler returns rather than retrying, matching spec.md
// §4.9's fire-and-forget job model.
type Handler func(ctx context.Context, job libcore.Job) error

// Desk is a single-threaded FIFO job queue drained by Drain.
type Desk struct {
	mu         sync.Mutex
	queue      []libcore.Job
	handlers   map[libcore.JobKind]Handler
	thresholds Thresholds
	logger     *zap.Logger

	topicVolumeCounts map[string]int
}

// New constructs an empty Desk.
func New(thresholds Thresholds, logger *zap.Logger) *Desk {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Desk{
		handlers:          make(map[libcore.JobKind]Handler),
		thresholds:        thresholds,
		logger:            logger,
		topicVolumeCounts: make(map[string]int),
	}
}

// RegisterHandler installs the handler invoked for jobs of kind.
func (d *Desk) RegisterHandler(kind libcore.JobKind, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = handler
}

// EnqueueExtraction queues an Extraction job for the given volume ids.
func (d *Desk) EnqueueExtraction(volumeIDs []string) {
	d.enqueue(libcore.Job{Kind: libcore.JobExtraction, VolumeIDs: volumeIDs})
}

// EnqueueCompendium queues a Compendium job for topic if it has
// accumulated at least MinEntriesForCompendium volumes.
func (d *Desk) EnqueueCompendium(topic string, volumeIDs []string) {
	if len(volumeIDs) < d.thresholds.MinEntriesForCompendium {
		return
	}
	d.enqueue(libcore.Job{Kind: libcore.JobCompendium, Topic: topic, VolumeIDs: volumeIDs})
}

// EnqueueReorganization queues a Reorganization job for topic, called
// when NoteVolumeAdded reports the topic has crossed
// TopicComplexityThreshold.
func (d *Desk) EnqueueReorganization(topic string) {
	d.enqueue(libcore.Job{Kind: libcore.JobReorganization, Topic: topic})
}

// EnqueueOptimization queues a global Optimization job, called when the
// total volume count crosses GlobalThreshold.
func (d *Desk) EnqueueOptimization() {
	d.enqueue(libcore.Job{Kind: libcore.JobOptimization})
}

func (d *Desk) enqueue(job libcore.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, job)
}

// NoteVolumeAdded tracks per-topic volume counts and auto-enqueues a
// Reorganization job once topic crosses TopicComplexityThreshold, or an
// Optimization job once the running total crosses GlobalThreshold.
func (d *Desk) NoteVolumeAdded(topic string, totalVolumes int) {
	d.mu.Lock()
	d.topicVolumeCounts[topic]++
	count := d.topicVolumeCounts[topic]
	d.mu.Unlock()

	if d.thresholds.TopicComplexityThreshold > 0 && count == d.thresholds.TopicComplexityThreshold {
		d.EnqueueReorganization(topic)
	}
	if d.thresholds.GlobalThreshold > 0 && totalVolumes == d.thresholds.GlobalThreshold {
		d.EnqueueOptimization()
	}
}

// ShouldEscalate reports whether topic's accumulated volume count has
// crossed EscalateAtThreshold, the point at which LibrarianRegistry should
// be asked to spawn a specialist.
func (d *Desk) ShouldEscalate(topic string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.thresholds.EscalateAtThreshold > 0 && d.topicVolumeCounts[topic] >= d.thresholds.EscalateAtThreshold
}

// QueueLen returns the number of jobs currently queued.
func (d *Desk) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Drain processes every currently queued job, sequentially, on the
// calling goroutine. A handler error is logged and swallowed; it never
// stops the drain or triggers a retry.
func (d *Desk) Drain(ctx context.Context) {
	d.mu.Lock()
	jobs := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, job := range jobs {
		d.mu.Lock()
		handler, ok := d.handlers[job.Kind]
		d.mu.Unlock()
		if !ok {
			d.logger.Warn("no handler registered for job kind", zap.String("kind", string(job.Kind)))
			continue
		}
		if err := handler(ctx, job); err != nil {
			d.logger.Error("circulation job failed", zap.String("kind", string(job.Kind)), zap.String("topic", job.Topic), zap.Error(err))
		}
	}
}

// Flush drains synchronously and blocks until every currently queued job
// has been processed; equivalent to Drain, kept as a distinct name to
// mirror Stacks' Flush/Dispose vocabulary for disposal call sites.
func (d *Desk) Flush(ctx context.Context) {
	d.Drain(ctx)
}

// Dispose drains any remaining jobs. Desk has no background goroutine of
// its own (Drain is always caller-driven), so Dispose is simply a final
// Drain. It sets no disposed state: jobs enqueued afterwards are still
// queued, and a later Drain runs them.
func (d *Desk) Dispose(ctx context.Context) {
	d.Drain(ctx)
}
