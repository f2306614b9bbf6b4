package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Cybvr/Juju2026/pkg/domain"
)

func TestRedisFeedPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	feed := NewRedisFeed(mr.Addr(), "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, stop, err := feed.Subscribe(ctx, "a1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	img := domain.GeneratedImage{ID: "img-1", AlbumID: "a1", UserID: "u1", Prompt: "p", URL: "u"}
	if err := feed.Publish(ctx, Event{Kind: EventImageCreated, AlbumID: "a1", Image: &img}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case event := <-events:
		if event.Kind != EventImageCreated {
			t.Fatalf("kind = %q", event.Kind)
		}
		if event.Image == nil || event.Image.ID != "img-1" {
			t.Fatalf("unexpected event image: %+v", event.Image)
		}
		if event.At.IsZero() {
			t.Fatalf("expected publish to stamp event time")
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for event")
	}
}

func TestRedisFeedIsolatesAlbums(t *testing.T) {
	mr := miniredis.RunT(t)
	feed := NewRedisFeed(mr.Addr(), "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, stop, err := feed.Subscribe(ctx, "a1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	if err := feed.Publish(ctx, Event{Kind: EventGenerationFailed, AlbumID: "a2", Error: "boom"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case event := <-events:
		t.Fatalf("expected no event for other album, got %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMemoryFeedFanOutAndCancel(t *testing.T) {
	feed := NewMemoryFeed()
	ctx := context.Background()

	events, stop, err := feed.Subscribe(ctx, "a1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := feed.Publish(ctx, Event{Kind: EventGenerationFailed, AlbumID: "a1", Error: "boom"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case event := <-events:
		if event.Kind != EventGenerationFailed || event.Error != "boom" {
			t.Fatalf("unexpected event: %+v", event)
		}
	default:
		t.Fatalf("expected buffered event")
	}

	stop()
	if _, open := <-events; open {
		t.Fatalf("expected channel closed after cancel")
	}
}
