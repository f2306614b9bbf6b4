package generate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Cybvr/Juju2026/pkg/domain"
	"github.com/Cybvr/Juju2026/pkg/queue"
	"github.com/Cybvr/Juju2026/pkg/storage"
	"github.com/Cybvr/Juju2026/pkg/store"
)

// Dispatcher accepts a generation request and detaches it from the caller.
// Dispatch must return promptly; the outcome is reported only through the
// album's event feed, never through the caller's control flow, and no
// cancellation is exposed once fired.
type Dispatcher interface {
	Dispatch(userID, albumID, prompt string) error
}

// defaultURLTTL is how long presigned artifact URLs stay valid.
const defaultURLTTL = 7 * 24 * time.Hour

// Worker runs the generation pipeline for one job: render, upload, record,
// announce. Exactly one GeneratedImage is written per successful job.
type Worker struct {
	store     store.Store
	feed      store.Feed
	artifacts storage.ArtifactStore
	backend   ImageBackend
	urlTTL    time.Duration
}

// NewWorker wires the generation pipeline.
func NewWorker(dataStore store.Store, feed store.Feed, artifacts storage.ArtifactStore, backend ImageBackend) *Worker {
	return &Worker{
		store:     dataStore,
		feed:      feed,
		artifacts: artifacts,
		backend:   backend,
		urlTTL:    defaultURLTTL,
	}
}

// Run executes one generation. On failure nothing is recorded; a
// generation.failed event carries the report instead.
func (w *Worker) Run(ctx context.Context, userID, albumID, prompt string) error {
	img, err := w.generate(ctx, userID, albumID, prompt)
	if err != nil {
		slog.Error("image generation failed", "album_id", albumID, "err", err)
		_ = w.feed.Publish(ctx, store.Event{
			Kind:    store.EventGenerationFailed,
			AlbumID: albumID,
			Error:   err.Error(),
		})
		return err
	}
	_ = w.feed.Publish(ctx, store.Event{
		Kind:    store.EventImageCreated,
		AlbumID: albumID,
		Image:   &img,
	})
	return nil
}

func (w *Worker) generate(ctx context.Context, userID, albumID, prompt string) (domain.GeneratedImage, error) {
	data, err := w.backend.GenerateImage(ctx, prompt)
	if err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("generate image: %w", err)
	}
	key, err := w.artifacts.PutImage(ctx, albumID, data, "image/png")
	if err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("store artifact: %w", err)
	}
	url, err := w.artifacts.PresignGet(ctx, key, w.urlTTL)
	if err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("presign artifact: %w", err)
	}
	img, err := w.store.CreateImage(domain.GeneratedImage{
		UserID:  userID,
		AlbumID: albumID,
		Prompt:  prompt,
		URL:     url,
		Title:   domain.ImageTitle(prompt),
	})
	if err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("record image: %w", err)
	}
	// A new image is a structural change: refresh the album thumbnail and
	// its recency position.
	if err := w.store.UpdateAlbum(albumID, "", url); err != nil {
		slog.Warn("album touch failed after generation", "album_id", albumID, "err", err)
	}
	return img, nil
}

// QueueDispatcher hands jobs to the Redis Streams queue; separate worker
// consumers pick them up.
type QueueDispatcher struct {
	queue *queue.RedisJobQueue
}

// NewQueueDispatcher builds a queue-backed dispatcher.
func NewQueueDispatcher(q *queue.RedisJobQueue) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

// Dispatch enqueues the job and returns without waiting for generation.
func (d *QueueDispatcher) Dispatch(userID, albumID, prompt string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.queue.Enqueue(ctx, userID, albumID, prompt); err != nil {
		return fmt.Errorf("enqueue generation: %w", err)
	}
	return nil
}

// StartConsumers attaches the worker pipeline to the queue.
func (d *QueueDispatcher) StartConsumers(ctx context.Context, worker *Worker, concurrency int) {
	d.queue.Start(ctx, concurrency, func(jobCtx context.Context, job queue.Job) error {
		return worker.Run(jobCtx, job.UserID, job.AlbumID, job.Prompt)
	})
}

// LocalDispatcher runs generations in-process with bounded concurrency.
// Used when no Redis is configured. Jobs run on a background context so
// they outlive the request that spawned them.
type LocalDispatcher struct {
	worker  *Worker
	group   *errgroup.Group
	baseCtx context.Context
}

// NewLocalDispatcher builds an in-process dispatcher with at most limit
// concurrent generations.
func NewLocalDispatcher(ctx context.Context, worker *Worker, limit int) *LocalDispatcher {
	if limit <= 0 {
		limit = 2
	}
	group := &errgroup.Group{}
	group.SetLimit(limit)
	return &LocalDispatcher{worker: worker, group: group, baseCtx: ctx}
}

// Dispatch spawns the generation when capacity allows; when the pool is
// full the job is dropped and reported on the feed rather than queued.
func (d *LocalDispatcher) Dispatch(userID, albumID, prompt string) error {
	started := d.group.TryGo(func() error {
		_ = d.worker.Run(d.baseCtx, userID, albumID, prompt)
		return nil
	})
	if !started {
		_ = d.worker.feed.Publish(d.baseCtx, store.Event{
			Kind:    store.EventGenerationFailed,
			AlbumID: albumID,
			Error:   "generation capacity exhausted",
		})
		return fmt.Errorf("generation capacity exhausted")
	}
	return nil
}

// Wait blocks until in-flight generations finish. For shutdown and tests.
func (d *LocalDispatcher) Wait() {
	_ = d.group.Wait()
}
