package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/talkbase/realtime-api/internal/models"
)

// ReactionRepository persists emoji reactions with upsert semantics.
type ReactionRepository interface {
	Upsert(ctx context.Context, reaction *models.Reaction) error
	Delete(ctx context.Context, messageID, userID, emoji string) error
	ListByMessage(ctx context.Context, messageID string) ([]models.Reaction, error)
}

type reactionRepository struct {
	db *gorm.DB
}

// NewReactionRepository constructs a reaction repository backed by GORM.
func NewReactionRepository(db *gorm.DB) ReactionRepository {
	return &reactionRepository{db: db}
}

// Upsert inserts the reaction row, silently keeping the existing one
// on a (message, user, emoji) conflict so repeat calls are no-ops.
func (r *reactionRepository) Upsert(ctx context.Context, reaction *models.Reaction) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}, {Name: "emoji"}},
			DoNothing: true,
		}).
		Create(reaction).Error
}

// Delete removes the reaction row; deleting an absent row is success.
func (r *reactionRepository) Delete(ctx context.Context, messageID, userID, emoji string) error {
	return r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&models.Reaction{}).Error
}

func (r *reactionRepository) ListByMessage(ctx context.Context, messageID string) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}
	return reactions, nil
}
