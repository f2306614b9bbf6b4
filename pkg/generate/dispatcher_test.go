package generate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Cybvr/Juju2026/pkg/domain"
	"github.com/Cybvr/Juju2026/pkg/storage"
	"github.com/Cybvr/Juju2026/pkg/store"
)

type failingBackend struct{}

func (failingBackend) GenerateImage(context.Context, string) ([]byte, error) {
	return nil, errors.New("model overloaded")
}

func newTestWorker(t *testing.T, backend ImageBackend) (*Worker, *store.MemoryStore, *store.MemoryFeed) {
	t.Helper()
	dataStore := store.NewMemoryStore()
	feed := store.NewMemoryFeed()
	if err := dataStore.CreateAlbum(domain.Album{ID: "a1", UserID: "u1", Name: "Sunsets"}); err != nil {
		t.Fatalf("create album: %v", err)
	}
	return NewWorker(dataStore, feed, storage.NewMemoryArtifactStore(), backend), dataStore, feed
}

func TestWorkerRunRecordsExactlyOneImage(t *testing.T) {
	worker, dataStore, feed := newTestWorker(t, StubBackend{})
	ctx := context.Background()

	events, stop, err := feed.Subscribe(ctx, "a1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	if err := worker.Run(ctx, "u1", "a1", "a vivid sunset over mountains"); err != nil {
		t.Fatalf("run: %v", err)
	}

	images, err := dataStore.ListImagesByAlbum("a1")
	if err != nil {
		t.Fatalf("list images: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("expected exactly one image, got %d", len(images))
	}
	img := images[0]
	if img.Prompt != "a vivid sunset over mountains" || img.UserID != "u1" {
		t.Fatalf("unexpected image record: %+v", img)
	}
	if img.Title != "a vivid sunset over …" {
		t.Fatalf("title = %q", img.Title)
	}
	if !strings.HasPrefix(img.URL, "memory://albums/a1/") {
		t.Fatalf("url = %q", img.URL)
	}

	select {
	case event := <-events:
		if event.Kind != store.EventImageCreated || event.Image == nil || event.Image.ID != img.ID {
			t.Fatalf("unexpected event: %+v", event)
		}
	default:
		t.Fatalf("expected image.created event")
	}
}

func TestWorkerRunBumpsAlbumRecency(t *testing.T) {
	worker, dataStore, _ := newTestWorker(t, StubBackend{})

	before, _, err := dataStore.GetAlbum("a1")
	if err != nil {
		t.Fatalf("get album: %v", err)
	}
	if err := worker.Run(context.Background(), "u1", "a1", "p"); err != nil {
		t.Fatalf("run: %v", err)
	}
	after, _, err := dataStore.GetAlbum("a1")
	if err != nil {
		t.Fatalf("get album: %v", err)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Fatalf("expected album updatedAt bump after generation")
	}
	if after.Thumbnail == "" {
		t.Fatalf("expected thumbnail set from generated image")
	}
}

func TestWorkerRunFailureWritesNothingAndReports(t *testing.T) {
	worker, dataStore, feed := newTestWorker(t, failingBackend{})
	ctx := context.Background()

	events, stop, err := feed.Subscribe(ctx, "a1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	if err := worker.Run(ctx, "u1", "a1", "p"); err == nil {
		t.Fatalf("expected run to fail")
	}

	images, err := dataStore.ListImagesByAlbum("a1")
	if err != nil {
		t.Fatalf("list images: %v", err)
	}
	if len(images) != 0 {
		t.Fatalf("expected no image on failure, got %d", len(images))
	}
	select {
	case event := <-events:
		if event.Kind != store.EventGenerationFailed || event.Error == "" {
			t.Fatalf("unexpected event: %+v", event)
		}
	default:
		t.Fatalf("expected generation.failed event")
	}
}

func TestLocalDispatcherRunsDetached(t *testing.T) {
	worker, dataStore, _ := newTestWorker(t, StubBackend{})
	d := NewLocalDispatcher(context.Background(), worker, 2)

	if err := d.Dispatch("u1", "a1", "p"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Wait()

	images, err := dataStore.ListImagesByAlbum("a1")
	if err != nil {
		t.Fatalf("list images: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("expected one image after dispatch, got %d", len(images))
	}
}

func TestLocalDispatcherDropsWhenSaturated(t *testing.T) {
	blocked := make(chan struct{})
	backend := blockingBackend{release: blocked}
	worker, _, feed := newTestWorker(t, backend)
	d := NewLocalDispatcher(context.Background(), worker, 1)

	events, stop, err := feed.Subscribe(context.Background(), "a1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	if err := d.Dispatch("u1", "a1", "first"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := d.Dispatch("u1", "a1", "second"); err == nil {
		t.Fatalf("expected saturation error")
	}
	close(blocked)
	d.Wait()

	// The dropped job must be announced on the feed.
	deadline := time.After(time.Second)
	for {
		select {
		case event := <-events:
			if event.Kind == store.EventGenerationFailed {
				return
			}
		case <-deadline:
			t.Fatalf("expected generation.failed event for dropped job")
		}
	}
}

type blockingBackend struct {
	release chan struct{}
}

func (b blockingBackend) GenerateImage(context.Context, string) ([]byte, error) {
	<-b.release
	return StubBackend{}.GenerateImage(context.Background(), "")
}
