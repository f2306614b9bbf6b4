package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cybvr/Juju2026/pkg/ai"
	"github.com/Cybvr/Juju2026/pkg/domain"
	"github.com/Cybvr/Juju2026/pkg/store"
)

type fakeGateway struct {
	mu      sync.Mutex
	calls   int32
	history [][]ai.ChatTurn
	reply   domain.Reply
	err     error
	block   chan struct{} // when set, SendChat waits until closed
}

func (g *fakeGateway) SendChat(_ context.Context, turns []ai.ChatTurn) (domain.Reply, error) {
	atomic.AddInt32(&g.calls, 1)
	g.mu.Lock()
	g.history = append(g.history, turns)
	g.mu.Unlock()
	if g.block != nil {
		<-g.block
	}
	return g.reply, g.err
}

func (g *fakeGateway) callCount() int { return int(atomic.LoadInt32(&g.calls)) }

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []struct{ userID, albumID, prompt string }
	err   error
}

func (d *fakeDispatcher) Dispatch(userID, albumID, prompt string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, struct{ userID, albumID, prompt string }{userID, albumID, prompt})
	return d.err
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func newTestApp(t *testing.T, gw *fakeGateway, disp *fakeDispatcher) (*App, *store.MemoryStore, domain.User) {
	t.Helper()
	dataStore := store.NewMemoryStore()
	user := domain.User{ID: "u1", Email: "u1@example.com", Plan: domain.PlanFree}
	if err := dataStore.SaveUser(user); err != nil {
		t.Fatalf("save user: %v", err)
	}
	if err := dataStore.CreateAlbum(domain.Album{ID: "a1", UserID: "u1", Name: "A1"}); err != nil {
		t.Fatalf("create album: %v", err)
	}
	a, err := New(Config{Store: dataStore, Gateway: gw, Dispatcher: disp})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, dataStore, user
}

func TestSendMessageFullTurnWithDirective(t *testing.T) {
	gw := &fakeGateway{reply: domain.Reply{Text: "Sure!", Directive: "a vivid sunset over mountains"}}
	disp := &fakeDispatcher{}
	a, dataStore, user := newTestApp(t, gw, disp)

	result, err := a.SendMessage(context.Background(), user, "a1", "draw a sunset", nil)
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	msgs, err := dataStore.ListMessages("a1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[0].Content != "draw a sunset" {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != domain.RoleAssistant || msgs[1].Content != "Sure!" {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}
	if disp.count() != 1 {
		t.Fatalf("expected 1 dispatch, got %d", disp.count())
	}
	disp.mu.Lock()
	call := disp.calls[0]
	disp.mu.Unlock()
	if call.prompt != "a vivid sunset over mountains" || call.albumID != "a1" || call.userID != "u1" {
		t.Fatalf("unexpected dispatch: %+v", call)
	}
	if !result.Dispatched {
		t.Fatalf("expected result to report dispatch")
	}
}

func TestSendMessageEmptyInputIsNoOp(t *testing.T) {
	gw := &fakeGateway{reply: domain.Reply{Text: "hello"}}
	a, dataStore, user := newTestApp(t, gw, &fakeDispatcher{})

	if _, err := a.SendMessage(context.Background(), user, "a1", "   ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got: %v", err)
	}
	if gw.callCount() != 0 {
		t.Fatalf("gateway must not be called for empty input")
	}
	if msgs, _ := dataStore.ListMessages("a1"); len(msgs) != 0 {
		t.Fatalf("expected no store writes, got %d messages", len(msgs))
	}
}

func TestSendMessageAttachmentsAloneAreValid(t *testing.T) {
	gw := &fakeGateway{reply: domain.Reply{Text: "nice reference"}}
	a, dataStore, user := newTestApp(t, gw, &fakeDispatcher{})

	if _, err := a.SendMessage(context.Background(), user, "a1", "", []string{"/images/ref.jpg"}); err != nil {
		t.Fatalf("send message: %v", err)
	}
	msgs, _ := dataStore.ListMessages("a1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if len(msgs[0].Attachments) != 1 || msgs[0].Attachments[0] != "/images/ref.jpg" {
		t.Fatalf("attachments not persisted: %+v", msgs[0])
	}
}

func TestSendMessageRequiresIdentity(t *testing.T) {
	gw := &fakeGateway{}
	a, _, _ := newTestApp(t, gw, &fakeDispatcher{})

	if _, err := a.SendMessage(context.Background(), domain.User{}, "a1", "hi", nil); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got: %v", err)
	}
	if gw.callCount() != 0 {
		t.Fatalf("gateway must not be called without identity")
	}
}

func TestSendMessageRejectsForeignAlbum(t *testing.T) {
	a, dataStore, _ := newTestApp(t, &fakeGateway{}, &fakeDispatcher{})
	other := domain.User{ID: "u2"}
	if err := dataStore.SaveUser(other); err != nil {
		t.Fatalf("save user: %v", err)
	}
	if _, err := a.SendMessage(context.Background(), other, "a1", "hi", nil); !errors.Is(err, ErrAlbumForbidden) {
		t.Fatalf("expected ErrAlbumForbidden, got: %v", err)
	}
}

func TestSendMessageSingleFlightPerAlbum(t *testing.T) {
	block := make(chan struct{})
	gw := &fakeGateway{reply: domain.Reply{Text: "done"}, block: block}
	a, _, user := newTestApp(t, gw, &fakeDispatcher{})

	started := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		close(started)
		_, err := a.SendMessage(context.Background(), user, "a1", "first", nil)
		firstDone <- err
	}()
	<-started
	// Wait until the first turn holds the album lock.
	for i := 0; i < 1000 && gw.callCount() == 0; i++ {
		<-time.After(time.Millisecond)
	}

	// N rapid submissions while busy are all dropped, not queued.
	for i := 0; i < 5; i++ {
		if _, err := a.SendMessage(context.Background(), user, "a1", "again", nil); !errors.Is(err, ErrTurnInFlight) {
			t.Fatalf("expected ErrTurnInFlight, got: %v", err)
		}
	}
	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if gw.callCount() != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.callCount())
	}

	// The lock always resolves back to idle: the next turn goes through.
	if _, err := a.SendMessage(context.Background(), user, "a1", "retry", nil); err != nil {
		t.Fatalf("turn after release: %v", err)
	}
}

func TestSendMessageGatewayFailureLeavesOrphanedUserMessage(t *testing.T) {
	gw := &fakeGateway{err: errors.New("model down")}
	disp := &fakeDispatcher{}
	a, dataStore, user := newTestApp(t, gw, disp)

	_, err := a.SendMessage(context.Background(), user, "a1", "draw a sunset", nil)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got: %v", err)
	}

	msgs, _ := dataStore.ListMessages("a1")
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Fatalf("expected exactly the orphaned user message, got %+v", msgs)
	}
	if disp.count() != 0 {
		t.Fatalf("no dispatch on gateway failure")
	}

	// Busy state resolved: an immediate retry is accepted.
	gw.err = nil
	gw.reply = domain.Reply{Text: "recovered"}
	if _, err := a.SendMessage(context.Background(), user, "a1", "draw a sunset", nil); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestSendMessageSendsFullHistoryEveryTurn(t *testing.T) {
	gw := &fakeGateway{reply: domain.Reply{Text: "ok"}}
	a, _, user := newTestApp(t, gw, &fakeDispatcher{})
	ctx := context.Background()

	if _, err := a.SendMessage(ctx, user, "a1", "first", nil); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := a.SendMessage(ctx, user, "a1", "second", nil); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	last := gw.history[len(gw.history)-1]
	if len(last) != 3 {
		t.Fatalf("expected 3 turns of history, got %d", len(last))
	}
	if last[0].Role != "user" || last[0].Text != "first" {
		t.Fatalf("unexpected history[0]: %+v", last[0])
	}
	if last[1].Role != "model" || last[1].Text != "ok" {
		t.Fatalf("assistant turn must map to model role: %+v", last[1])
	}
	if last[2].Role != "user" || last[2].Text != "second" {
		t.Fatalf("new utterance must be final turn: %+v", last[2])
	}
}

func TestSendMessageNoDirectiveNoDispatch(t *testing.T) {
	gw := &fakeGateway{reply: domain.Reply{Text: "just chatting"}}
	disp := &fakeDispatcher{}
	a, _, user := newTestApp(t, gw, disp)

	result, err := a.SendMessage(context.Background(), user, "a1", "hello", nil)
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if result.Dispatched || disp.count() != 0 {
		t.Fatalf("expected no dispatch")
	}
}

func TestSendMessageDispatchFailureDoesNotFailTurn(t *testing.T) {
	gw := &fakeGateway{reply: domain.Reply{Text: "Sure!", Directive: "a red fox in snow"}}
	disp := &fakeDispatcher{err: errors.New("queue down")}
	a, dataStore, user := newTestApp(t, gw, disp)

	result, err := a.SendMessage(context.Background(), user, "a1", "draw a fox", nil)
	if err != nil {
		t.Fatalf("turn must complete despite dispatch failure: %v", err)
	}
	if result.Dispatched {
		t.Fatalf("dispatched should be false on dispatch failure")
	}
	if msgs, _ := dataStore.ListMessages("a1"); len(msgs) != 2 {
		t.Fatalf("both messages must persist, got %d", len(msgs))
	}
}

func TestStartAlbumCreatesAlbumAndRunsTurn(t *testing.T) {
	gw := &fakeGateway{reply: domain.Reply{Text: "Sure! Let me paint that.", Directive: "a vivid sunset over mountains"}}
	disp := &fakeDispatcher{}
	a, dataStore, user := newTestApp(t, gw, disp)

	album, result, err := a.StartAlbum(context.Background(), user, "draw a sunset over the alps", nil)
	if err != nil {
		t.Fatalf("start album: %v", err)
	}
	if album.Name != "a sunset over the alps" {
		t.Fatalf("album name = %q", album.Name)
	}
	if album.UserID != "u1" {
		t.Fatalf("album owner = %q", album.UserID)
	}
	msgs, _ := dataStore.ListMessages(album.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages in new album, got %d", len(msgs))
	}
	if disp.count() != 1 {
		t.Fatalf("expected dispatch for new album turn")
	}
	if !result.Dispatched {
		t.Fatalf("expected dispatched result")
	}
}

func TestAlbumNameFromPrompt(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"draw a sunset", "a sunset"},
		{"Generate a portrait of my dog", "a portrait of my dog"},
		{"  ", defaultAlbumName},
		{"a very long prompt that keeps going and going forever", "a very long prompt that …"},
	}
	for _, tc := range cases {
		if got := albumNameFromPrompt(tc.in); got != tc.want {
			t.Fatalf("albumNameFromPrompt(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHistoryReadIsNonDecreasing(t *testing.T) {
	gw := &fakeGateway{reply: domain.Reply{Text: "ok"}}
	a, _, user := newTestApp(t, gw, &fakeDispatcher{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := a.SendMessage(ctx, user, "a1", "ping", nil); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
	msgs, err := a.ListMessages(user, "a1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("history out of order at %d", i)
		}
	}
}

func TestDeleteImageChecksOwnership(t *testing.T) {
	a, dataStore, user := newTestApp(t, &fakeGateway{}, &fakeDispatcher{})
	img, err := dataStore.CreateImage(domain.GeneratedImage{UserID: "someone-else", AlbumID: "a1", Prompt: "p", URL: "u"})
	if err != nil {
		t.Fatalf("create image: %v", err)
	}
	if err := a.DeleteImage(user, img.ID); !errors.Is(err, ErrAlbumForbidden) {
		t.Fatalf("expected ErrAlbumForbidden, got: %v", err)
	}
}
