package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Cybvr/Juju2026/internal/util"
	"github.com/Cybvr/Juju2026/pkg/ai"
	"github.com/Cybvr/Juju2026/pkg/domain"
	"github.com/Cybvr/Juju2026/pkg/generate"
	"github.com/Cybvr/Juju2026/pkg/store"
)

const (
	defaultAlbumName = "New Album"
	albumNameMaxLen  = 24
)

// Gateway is the model boundary the orchestrator talks to. It receives the
// full role-tagged history every call and returns the reply with any
// generation directive already extracted.
type Gateway interface {
	SendChat(ctx context.Context, turns []ai.ChatTurn) (domain.Reply, error)
}

// Config wires the orchestrator's collaborators. All dependencies are
// injected; nothing is read from process-global state.
type Config struct {
	Store      store.Store
	Gateway    Gateway
	Dispatcher generate.Dispatcher
}

// App owns the turn-taking protocol of the chat: one submitted utterance
// becomes at most one persisted user message, one model call, one persisted
// assistant message, and optionally one detached generation dispatch.
type App struct {
	store      store.Store
	gateway    Gateway
	dispatcher generate.Dispatcher

	mu       sync.Mutex
	inflight map[string]bool
}

// New constructs the orchestrator.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	return &App{
		store:      cfg.Store,
		gateway:    cfg.Gateway,
		dispatcher: cfg.Dispatcher,
		inflight:   make(map[string]bool),
	}, nil
}

// TurnResult reports what one completed turn produced.
type TurnResult struct {
	UserMessage      domain.Message `json:"userMessage"`
	AssistantMessage domain.Message `json:"assistantMessage"`
	Dispatched       bool           `json:"dispatched"`
}

// SendMessage executes exactly one conversation turn for an album.
//
// Turns against the same album are single-flight: a submission while one is
// in progress returns ErrTurnInFlight and has no side effect. Turns against
// different albums proceed independently.
//
// Once the user message is persisted there is no rollback: a gateway
// failure leaves it in the log without an assistant reply, and the caller
// may retry immediately.
func (a *App) SendMessage(ctx context.Context, user domain.User, albumID, content string, attachments []string) (TurnResult, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return TurnResult{}, ErrEmptyMessage
	}
	if strings.TrimSpace(user.ID) == "" {
		return TurnResult{}, ErrNoIdentity
	}
	album, ok, err := a.store.GetAlbum(albumID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load album: %w", err)
	}
	if !ok {
		return TurnResult{}, ErrAlbumNotFound
	}
	if album.UserID != user.ID {
		return TurnResult{}, ErrAlbumForbidden
	}

	if !a.acquire(albumID) {
		return TurnResult{}, ErrTurnInFlight
	}
	defer a.release(albumID)

	return a.runTurn(ctx, user, albumID, content, attachments)
}

// StartAlbum handles the dashboard composer: the first utterance implicitly
// creates the album it lands in, named after the prompt, then runs a normal
// turn inside it.
func (a *App) StartAlbum(ctx context.Context, user domain.User, content string, attachments []string) (domain.Album, TurnResult, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return domain.Album{}, TurnResult{}, ErrEmptyMessage
	}
	if strings.TrimSpace(user.ID) == "" {
		return domain.Album{}, TurnResult{}, ErrNoIdentity
	}
	now := time.Now().UTC()
	album := domain.Album{
		ID:        util.NewID(),
		UserID:    user.ID,
		Name:      albumNameFromPrompt(content),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateAlbum(album); err != nil {
		return domain.Album{}, TurnResult{}, fmt.Errorf("create album: %w", err)
	}

	if !a.acquire(album.ID) {
		return domain.Album{}, TurnResult{}, ErrTurnInFlight
	}
	defer a.release(album.ID)

	result, err := a.runTurn(ctx, user, album.ID, content, attachments)
	return album, result, err
}

func (a *App) runTurn(ctx context.Context, user domain.User, albumID, content string, attachments []string) (TurnResult, error) {
	userMsg, err := a.store.AppendMessage(domain.Message{
		AlbumID:     albumID,
		UserID:      user.ID,
		Role:        domain.RoleUser,
		Content:     content,
		Attachments: attachments,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("save user message: %w", err)
	}

	// The model is stateless between calls: rebuild the whole ordered
	// history, including the message just written, on every turn.
	history, err := a.store.ListMessages(albumID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load history: %w", err)
	}

	reply, err := a.gateway.SendChat(ctx, ai.HistoryToTurns(history))
	if err != nil {
		// The user message stays; the visible gap in the log is the
		// accepted failure state.
		return TurnResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	assistantMsg, err := a.store.AppendMessage(domain.Message{
		AlbumID: albumID,
		UserID:  user.ID,
		Role:    domain.RoleAssistant,
		Content: reply.Text,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("save assistant message: %w", err)
	}

	result := TurnResult{UserMessage: userMsg, AssistantMessage: assistantMsg}
	if reply.Directive != "" {
		// Fire-and-forget: the dispatch outcome reaches the user via the
		// album feed, never through this turn.
		if err := a.dispatcher.Dispatch(user.ID, albumID, reply.Directive); err != nil {
			util.LoggerFromContext(ctx).Error("generation dispatch failed", "album_id", albumID, "err", err)
		} else {
			result.Dispatched = true
		}
	}
	return result, nil
}

func (a *App) acquire(albumID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inflight[albumID] {
		return false
	}
	a.inflight[albumID] = true
	return true
}

func (a *App) release(albumID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inflight, albumID)
}

// CreateAlbum explicitly creates an empty album.
func (a *App) CreateAlbum(user domain.User, name string) (domain.Album, error) {
	if strings.TrimSpace(user.ID) == "" {
		return domain.Album{}, ErrNoIdentity
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultAlbumName
	}
	now := time.Now().UTC()
	album := domain.Album{
		ID:        util.NewID(),
		UserID:    user.ID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateAlbum(album); err != nil {
		return domain.Album{}, fmt.Errorf("create album: %w", err)
	}
	return album, nil
}

// ListAlbums returns the user's albums, most recently changed first.
func (a *App) ListAlbums(user domain.User) ([]domain.Album, error) {
	if strings.TrimSpace(user.ID) == "" {
		return nil, ErrNoIdentity
	}
	albums, err := a.store.ListAlbumsByOwner(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	return albums, nil
}

// GetAlbum returns one album after an ownership check.
func (a *App) GetAlbum(user domain.User, albumID string) (domain.Album, error) {
	album, ok, err := a.store.GetAlbum(albumID)
	if err != nil {
		return domain.Album{}, fmt.Errorf("load album: %w", err)
	}
	if !ok {
		return domain.Album{}, ErrAlbumNotFound
	}
	if album.UserID != user.ID {
		return domain.Album{}, ErrAlbumForbidden
	}
	return album, nil
}

// RenameAlbum applies a structural change, which bumps the album's recency.
func (a *App) RenameAlbum(user domain.User, albumID, name string) (domain.Album, error) {
	if _, err := a.GetAlbum(user, albumID); err != nil {
		return domain.Album{}, err
	}
	if strings.TrimSpace(name) == "" {
		return domain.Album{}, fmt.Errorf("album name required")
	}
	if err := a.store.UpdateAlbum(albumID, name, ""); err != nil {
		return domain.Album{}, fmt.Errorf("update album: %w", err)
	}
	return a.GetAlbum(user, albumID)
}

// DeleteAlbum removes the album with its messages and images.
func (a *App) DeleteAlbum(user domain.User, albumID string) error {
	if _, err := a.GetAlbum(user, albumID); err != nil {
		return err
	}
	if err := a.store.DeleteAlbum(albumID); err != nil {
		return fmt.Errorf("delete album: %w", err)
	}
	return nil
}

// ListMessages returns the album conversation in chronological order.
func (a *App) ListMessages(user domain.User, albumID string) ([]domain.Message, error) {
	if _, err := a.GetAlbum(user, albumID); err != nil {
		return nil, err
	}
	msgs, err := a.store.ListMessages(albumID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// ListAlbumImages returns the album's artifacts, newest first.
func (a *App) ListAlbumImages(user domain.User, albumID string) ([]domain.GeneratedImage, error) {
	if _, err := a.GetAlbum(user, albumID); err != nil {
		return nil, err
	}
	images, err := a.store.ListImagesByAlbum(albumID)
	if err != nil {
		return nil, fmt.Errorf("list album images: %w", err)
	}
	return images, nil
}

// ListUserImages returns all of the user's artifacts, newest first.
func (a *App) ListUserImages(user domain.User) ([]domain.GeneratedImage, error) {
	if strings.TrimSpace(user.ID) == "" {
		return nil, ErrNoIdentity
	}
	images, err := a.store.ListImagesByOwner(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return images, nil
}

// DeleteImage removes one artifact after an ownership check.
func (a *App) DeleteImage(user domain.User, imageID string) error {
	img, ok, err := a.store.GetImage(imageID)
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}
	if !ok {
		return ErrImageNotFound
	}
	if img.UserID != user.ID {
		return ErrAlbumForbidden
	}
	if err := a.store.DeleteImage(imageID); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

// albumNameFromPrompt derives an album title from the first utterance.
func albumNameFromPrompt(prompt string) string {
	text := strings.TrimSpace(strings.ReplaceAll(prompt, "\n", " "))
	lower := strings.ToLower(text)
	for _, prefix := range []string{"please ", "can you ", "could you ", "draw me ", "draw ", "generate ", "create ", "make me ", "make ", "paint "} {
		if strings.HasPrefix(lower, prefix) {
			text = strings.TrimSpace(text[len(prefix):])
			break
		}
	}
	if text == "" {
		return defaultAlbumName
	}
	runes := []rune(text)
	if len(runes) > albumNameMaxLen {
		return string(runes[:albumNameMaxLen]) + "…"
	}
	return text
}
