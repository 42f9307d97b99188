package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/talkbase/realtime-api/internal/models"
)

// MessageRepository persists chat messages for history and delivery.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id string) (models.Message, error)
	ListByRoom(ctx context.Context, roomID string, before time.Time, limit int) ([]models.Message, error)
	LatestByRoom(ctx context.Context, roomID string) (models.Message, error)
	MarkDeleted(ctx context.Context, id string, at time.Time) error
	SetPinned(ctx context.Context, id string, pinned bool) error
	ListPinned(ctx context.Context, roomID string) ([]models.Message, error)
	CountUnread(ctx context.Context, roomID, userID string, since time.Time) (int64, error)
}

type messageRepository struct {
	db          *gorm.DB
	defaultPage int
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB, defaultPage int) MessageRepository {
	if defaultPage <= 0 {
		defaultPage = 50
	}
	return &messageRepository{db: db, defaultPage: defaultPage}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).Preload("Reactions").First(&message, "id = ?", id).Error
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

// ListByRoom fetches up to limit messages newest-first, then reverses
// to chronological order for clients. Soft-deleted rows are included;
// scrubbing happens at projection time.
func (r *messageRepository) ListByRoom(ctx context.Context, roomID string, before time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = r.defaultPage
	}

	query := r.db.WithContext(ctx).Preload("Reactions").Where("room_id = ?", roomID)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var messages []models.Message
	if err := query.Order("created_at DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *messageRepository) LatestByRoom(ctx context.Context, roomID string) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Preload("Reactions").
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		First(&message).Error
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", at).Error
}

func (r *messageRepository) SetPinned(ctx context.Context, id string, pinned bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Update("is_pinned", pinned).Error
}

// ListPinned returns non-deleted pinned messages oldest-first; there
// is no separate pin timestamp.
func (r *messageRepository) ListPinned(ctx context.Context, roomID string) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Preload("Reactions").
		Where("room_id = ? AND is_pinned = ? AND deleted_at IS NULL", roomID, true).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) CountUnread(ctx context.Context, roomID, userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("room_id = ? AND sender_id <> ? AND created_at > ?", roomID, userID, since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
