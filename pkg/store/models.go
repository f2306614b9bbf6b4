package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	DisplayName  string
	Plan         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type AlbumModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	Thumbnail string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID          string         `gorm:"primaryKey"`
	AlbumID     string         `gorm:"not null;index"`
	UserID      string         `gorm:"not null"`
	Role        string         `gorm:"not null"`
	Content     string         `gorm:"type:text;not null"`
	Attachments datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null;index"`
}

type GeneratedImageModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	AlbumID   string `gorm:"not null;index"`
	Prompt    string `gorm:"type:text;not null"`
	URL       string `gorm:"not null"`
	Title     string
	CreatedAt time.Time `gorm:"not null;index"`
}
