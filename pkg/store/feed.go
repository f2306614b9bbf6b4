package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Cybvr/Juju2026/pkg/domain"
)

type EventKind string

const (
	EventImageCreated     EventKind = "image.created"
	EventGenerationFailed EventKind = "generation.failed"
)

// Event is one entry of an album's live feed: an ordered, append-only
// sequence the presentation layer subscribes to. The orchestrator never
// consumes it; generation outcomes reach the UI only through here.
type Event struct {
	Kind    EventKind              `json:"kind"`
	AlbumID string                 `json:"albumId"`
	Image   *domain.GeneratedImage `json:"image,omitempty"`
	Error   string                 `json:"error,omitempty"`
	At      time.Time              `json:"at"`
}

// Feed publishes and subscribes to per-album events. Subscriptions are
// restartable: a dropped consumer simply subscribes again.
type Feed interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, albumID string) (<-chan Event, func(), error)
}

const feedChannelPrefix = "juju:feed:"

// RedisFeed implements Feed over Redis pub/sub.
type RedisFeed struct {
	client *redis.Client
}

// NewRedisFeed builds a Redis-backed feed.
func NewRedisFeed(addr, password string) *RedisFeed {
	return &RedisFeed{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// Publish sends one event to the album's channel.
func (f *RedisFeed) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	return f.client.Publish(ctx, feedChannelPrefix+event.AlbumID, payload).Err()
}

// Subscribe opens a live event channel for one album. The returned cancel
// func closes the subscription; the event channel closes after it.
func (f *RedisFeed) Subscribe(ctx context.Context, albumID string) (<-chan Event, func(), error) {
	sub := f.client.Subscribe(ctx, feedChannelPrefix+albumID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe feed: %w", err)
	}
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

// MemoryFeed implements Feed in-process for tests and single-node dev.
type MemoryFeed struct {
	mu   sync.Mutex
	subs map[string][]chan Event
}

// NewMemoryFeed initializes an empty in-memory feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string][]chan Event)}
}

// Publish fans the event out to current subscribers of the album.
func (f *MemoryFeed) Publish(_ context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[event.AlbumID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a buffered listener for one album.
func (f *MemoryFeed) Subscribe(_ context.Context, albumID string) (<-chan Event, func(), error) {
	ch := make(chan Event, 16)
	f.mu.Lock()
	f.subs[albumID] = append(f.subs[albumID], ch)
	f.mu.Unlock()
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		subs := f.subs[albumID]
		for i, c := range subs {
			if c == ch {
				f.subs[albumID] = append(subs[:i], subs[i+1:]...)
				close(c)
				return
			}
		}
	}
	return ch, cancel, nil
}
