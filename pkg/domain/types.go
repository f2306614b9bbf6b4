package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"displayName"`
	Plan         Plan      `json:"plan"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Album groups a conversation and the images it produced.
// UpdatedAt moves on structural changes (rename, new thumbnail, new image),
// not on every chat message.
type Album struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Thumbnail string    `json:"thumbnail"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one half of a chat turn. Messages are immutable once written
// and totally ordered per album by (CreatedAt, ID).
type Message struct {
	ID          string    `json:"id"`
	AlbumID     string    `json:"albumId"`
	UserID      string    `json:"userId"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// GeneratedImage is an artifact produced by the generation dispatcher.
type GeneratedImage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	AlbumID   string    `json:"albumId"`
	Prompt    string    `json:"prompt"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Reply is what the model gateway returns for one turn: the user-visible
// text with any generation marker already stripped, plus the optional
// extracted prompt. The directive is never persisted.
type Reply struct {
	Text      string `json:"text"`
	Directive string `json:"directive,omitempty"`
}

// ImageTitle derives a short display title from the prompt that produced
// the image.
func ImageTitle(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= 20 {
		return prompt
	}
	return string(runes[:20]) + "…"
}
