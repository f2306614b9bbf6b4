package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Cybvr/Juju2026/internal/util"
	"github.com/Cybvr/Juju2026/pkg/domain"
)

const migrateLockID int64 = 58815881

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent service starts don't race.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &AlbumModel{}, &MessageModel{}, &GeneratedImageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM message_models m
				WHERE NOT EXISTS (SELECT 1 FROM album_models a WHERE a.id = m.album_id);
				DELETE FROM generated_image_models i
				WHERE NOT EXISTS (SELECT 1 FROM album_models a WHERE a.id = i.album_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_album_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_album_id_fkey
					FOREIGN KEY (album_id) REFERENCES album_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'generated_image_models'
					AND constraint_name = 'generated_image_models_album_id_fkey'
				) THEN
					ALTER TABLE generated_image_models
					ADD CONSTRAINT generated_image_models_album_id_fkey
					FOREIGN KEY (album_id) REFERENCES album_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure album foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "display_name", "plan", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateAlbum stores a new album.
func (s *GormStore) CreateAlbum(a domain.Album) error {
	model := albumToModel(a)
	return s.db.Create(&model).Error
}

// GetAlbum retrieves an album.
func (s *GormStore) GetAlbum(id string) (domain.Album, bool, error) {
	var model AlbumModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Album{}, false, nil
		}
		return domain.Album{}, false, err
	}
	return albumFromModel(model), true, nil
}

// ListAlbumsByOwner returns the user's albums, most recently changed first.
func (s *GormStore) ListAlbumsByOwner(userID string) ([]domain.Album, error) {
	var models []AlbumModel
	if err := s.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Album, 0, len(models))
	for _, m := range models {
		res = append(res, albumFromModel(m))
	}
	return res, nil
}

// UpdateAlbum applies a structural change (rename, thumbnail) and bumps
// updated_at. Empty fields are left untouched.
func (s *GormStore) UpdateAlbum(id string, name, thumbnail string) error {
	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if strings.TrimSpace(name) != "" {
		updates["name"] = strings.TrimSpace(name)
	}
	if strings.TrimSpace(thumbnail) != "" {
		updates["thumbnail"] = strings.TrimSpace(thumbnail)
	}
	return s.db.Model(&AlbumModel{}).Where("id = ?", id).Updates(updates).Error
}

// DeleteAlbum removes an album; messages and images follow via FK cascade.
func (s *GormStore) DeleteAlbum(id string) error {
	return s.db.Delete(&AlbumModel{}, "id = ?", id).Error
}

// AppendMessage records a message. ID and CreatedAt are assigned here when
// the caller left them zero, so the store owns per-album ordering.
func (s *GormStore) AppendMessage(msg domain.Message) (domain.Message, error) {
	if msg.ID == "" {
		msg.ID = util.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	model, err := messageToModel(msg)
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// ListMessages returns all album messages in chronological order.
func (s *GormStore) ListMessages(albumID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("album_id = ?", albumID).
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msg, err := messageFromModel(m)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// CreateImage records a generated artifact.
func (s *GormStore) CreateImage(img domain.GeneratedImage) (domain.GeneratedImage, error) {
	if img.ID == "" {
		img.ID = util.NewID()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	model := imageToModel(img)
	if err := s.db.Create(&model).Error; err != nil {
		return domain.GeneratedImage{}, err
	}
	return img, nil
}

// GetImage retrieves one image.
func (s *GormStore) GetImage(id string) (domain.GeneratedImage, bool, error) {
	var model GeneratedImageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.GeneratedImage{}, false, nil
		}
		return domain.GeneratedImage{}, false, err
	}
	return imageFromModel(model), true, nil
}

// ListImagesByAlbum returns album images newest first, for display.
func (s *GormStore) ListImagesByAlbum(albumID string) ([]domain.GeneratedImage, error) {
	return s.listImages("album_id = ?", albumID)
}

// ListImagesByOwner returns all of a user's images newest first.
func (s *GormStore) ListImagesByOwner(userID string) ([]domain.GeneratedImage, error) {
	return s.listImages("user_id = ?", userID)
}

func (s *GormStore) listImages(cond string, arg any) ([]domain.GeneratedImage, error) {
	var models []GeneratedImageModel
	if err := s.db.Where(cond, arg).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.GeneratedImage, 0, len(models))
	for _, m := range models {
		res = append(res, imageFromModel(m))
	}
	return res, nil
}

// DeleteImage removes one image record.
func (s *GormStore) DeleteImage(id string) error {
	return s.db.Delete(&GeneratedImageModel{}, "id = ?", id).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		DisplayName:  u.DisplayName,
		Plan:         string(u.Plan),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		DisplayName:  m.DisplayName,
		Plan:         domain.Plan(m.Plan),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func albumToModel(a domain.Album) AlbumModel {
	return AlbumModel{
		ID:        a.ID,
		UserID:    a.UserID,
		Name:      a.Name,
		Thumbnail: a.Thumbnail,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func albumFromModel(m AlbumModel) domain.Album {
	return domain.Album{
		ID:        m.ID,
		UserID:    m.UserID,
		Name:      m.Name,
		Thumbnail: m.Thumbnail,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) (MessageModel, error) {
	var attachments datatypes.JSON
	if len(msg.Attachments) > 0 {
		data, err := json.Marshal(msg.Attachments)
		if err != nil {
			return MessageModel{}, fmt.Errorf("marshal attachments: %w", err)
		}
		attachments = datatypes.JSON(data)
	}
	return MessageModel{
		ID:          msg.ID,
		AlbumID:     msg.AlbumID,
		UserID:      msg.UserID,
		Role:        string(msg.Role),
		Content:     msg.Content,
		Attachments: attachments,
		CreatedAt:   msg.CreatedAt,
	}, nil
}

func messageFromModel(m MessageModel) (domain.Message, error) {
	var attachments []string
	if len(m.Attachments) > 0 {
		if err := json.Unmarshal(m.Attachments, &attachments); err != nil {
			return domain.Message{}, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return domain.Message{
		ID:          m.ID,
		AlbumID:     m.AlbumID,
		UserID:      m.UserID,
		Role:        domain.Role(m.Role),
		Content:     m.Content,
		Attachments: attachments,
		CreatedAt:   m.CreatedAt,
	}, nil
}

func imageToModel(img domain.GeneratedImage) GeneratedImageModel {
	return GeneratedImageModel{
		ID:        img.ID,
		UserID:    img.UserID,
		AlbumID:   img.AlbumID,
		Prompt:    img.Prompt,
		URL:       img.URL,
		Title:     img.Title,
		CreatedAt: img.CreatedAt,
	}
}

func imageFromModel(m GeneratedImageModel) domain.GeneratedImage {
	return domain.GeneratedImage{
		ID:        m.ID,
		UserID:    m.UserID,
		AlbumID:   m.AlbumID,
		Prompt:    m.Prompt,
		URL:       m.URL,
		Title:     m.Title,
		CreatedAt: m.CreatedAt,
	}
}
