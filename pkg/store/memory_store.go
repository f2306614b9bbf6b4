package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Cybvr/Juju2026/internal/util"
	"github.com/Cybvr/Juju2026/pkg/domain"
)

// MemoryStore keeps all records in-process. Used for tests and local dev
// without Postgres.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]domain.User
	email  map[string]string // email -> user ID
	albums map[string]domain.Album
	msgs   map[string][]domain.Message // albumID -> ordered messages
	images map[string]domain.GeneratedImage
	clock  func() time.Time
	seq    int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]domain.User),
		email:  make(map[string]string),
		albums: make(map[string]domain.Album),
		msgs:   make(map[string][]domain.Message),
		images: make(map[string]domain.GeneratedImage),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// SaveUser registers or replaces a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// CreateAlbum stores a new album.
func (m *MemoryStore) CreateAlbum(a domain.Album) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.albums[a.ID] = a
	return nil
}

// GetAlbum retrieves an album by ID.
func (m *MemoryStore) GetAlbum(id string) (domain.Album, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.albums[id]
	return a, ok, nil
}

// ListAlbumsByOwner returns the user's albums, most recently changed first.
func (m *MemoryStore) ListAlbumsByOwner(userID string) ([]domain.Album, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Album, 0)
	for _, a := range m.albums {
		if a.UserID == userID {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})
	return res, nil
}

// UpdateAlbum applies a structural change and bumps UpdatedAt.
func (m *MemoryStore) UpdateAlbum(id string, name, thumbnail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.albums[id]
	if !ok {
		return nil
	}
	if strings.TrimSpace(name) != "" {
		a.Name = strings.TrimSpace(name)
	}
	if strings.TrimSpace(thumbnail) != "" {
		a.Thumbnail = strings.TrimSpace(thumbnail)
	}
	a.UpdatedAt = m.clock()
	m.albums[id] = a
	return nil
}

// DeleteAlbum removes an album and everything linked to it.
func (m *MemoryStore) DeleteAlbum(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.albums, id)
	delete(m.msgs, id)
	for imgID, img := range m.images {
		if img.AlbumID == id {
			delete(m.images, imgID)
		}
	}
	return nil
}

// AppendMessage records a message with a store-assigned ID and timestamp.
// The sequence counter breaks ties when the clock does not advance between
// appends, keeping per-album order total.
func (m *MemoryStore) AppendMessage(msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = util.NewID()
	}
	if msg.CreatedAt.IsZero() {
		m.seq++
		msg.CreatedAt = m.clock().Add(time.Duration(m.seq) * time.Nanosecond)
	}
	m.msgs[msg.AlbumID] = append(m.msgs[msg.AlbumID], msg)
	return msg, nil
}

// ListMessages returns album messages in append order (chronological).
func (m *MemoryStore) ListMessages(albumID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.msgs[albumID]
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	return res, nil
}

// CreateImage records a generated artifact.
func (m *MemoryStore) CreateImage(img domain.GeneratedImage) (domain.GeneratedImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if img.ID == "" {
		img.ID = util.NewID()
	}
	if img.CreatedAt.IsZero() {
		m.seq++
		img.CreatedAt = m.clock().Add(time.Duration(m.seq) * time.Nanosecond)
	}
	m.images[img.ID] = img
	return img, nil
}

// GetImage retrieves one image.
func (m *MemoryStore) GetImage(id string) (domain.GeneratedImage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	return img, ok, nil
}

// ListImagesByAlbum returns album images newest first.
func (m *MemoryStore) ListImagesByAlbum(albumID string) ([]domain.GeneratedImage, error) {
	return m.listImages(func(img domain.GeneratedImage) bool { return img.AlbumID == albumID })
}

// ListImagesByOwner returns all of a user's images newest first.
func (m *MemoryStore) ListImagesByOwner(userID string) ([]domain.GeneratedImage, error) {
	return m.listImages(func(img domain.GeneratedImage) bool { return img.UserID == userID })
}

func (m *MemoryStore) listImages(match func(domain.GeneratedImage) bool) ([]domain.GeneratedImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.GeneratedImage, 0)
	for _, img := range m.images {
		if match(img) {
			res = append(res, img)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// DeleteImage removes one image record.
func (m *MemoryStore) DeleteImage(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, id)
	return nil
}

// MemorySessionStore keeps session tokens in-process.
type MemorySessionStore struct {
	mu   sync.RWMutex
	sess map[string]string
}

// NewMemorySessionStore initializes an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sess: make(map[string]string)}
}

// NewSession creates a session token for a user.
func (m *MemorySessionStore) NewSession(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := util.NewID()
	m.sess[token] = userID
	return token, nil
}

// GetUserIDByToken resolves a token to a user ID.
func (m *MemorySessionStore) GetUserIDByToken(token string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sess[token]
	return id, ok, nil
}

// DeleteSession removes a token.
func (m *MemorySessionStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, token)
	return nil
}
