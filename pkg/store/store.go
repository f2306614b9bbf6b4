package store

import "github.com/Cybvr/Juju2026/pkg/domain"

// Store defines persistence operations for users, albums, messages, and
// generated images.
//
// Messages are append-only: AppendMessage assigns the authoritative ID and
// creation timestamp when the caller left them zero, so ordering within an
// album is decided by the store, not the client.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// albums
	CreateAlbum(domain.Album) error
	GetAlbum(id string) (domain.Album, bool, error)
	ListAlbumsByOwner(userID string) ([]domain.Album, error)
	UpdateAlbum(id string, name, thumbnail string) error
	DeleteAlbum(id string) error

	// messages
	AppendMessage(msg domain.Message) (domain.Message, error)
	ListMessages(albumID string) ([]domain.Message, error)

	// images
	CreateImage(img domain.GeneratedImage) (domain.GeneratedImage, error)
	GetImage(id string) (domain.GeneratedImage, bool, error)
	ListImagesByAlbum(albumID string) ([]domain.GeneratedImage, error)
	ListImagesByOwner(userID string) ([]domain.GeneratedImage, error)
	DeleteImage(id string) error
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
