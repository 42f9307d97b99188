package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/talkbase/realtime-api/internal/models"
)

// PresenceRepository persists per-user connectivity rows.
type PresenceRepository interface {
	Upsert(ctx context.Context, presence *models.Presence) error
	Get(ctx context.Context, userID string) (models.Presence, error)
	ListOnlineSince(ctx context.Context, since time.Time) ([]models.Presence, error)
}

type presenceRepository struct {
	db *gorm.DB
}

// NewPresenceRepository constructs a presence repository backed by GORM.
func NewPresenceRepository(db *gorm.DB) PresenceRepository {
	return &presenceRepository{db: db}
}

// Upsert writes the presence row last-writer-wins.
func (r *presenceRepository) Upsert(ctx context.Context, presence *models.Presence) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(presence).Error
}

func (r *presenceRepository) Get(ctx context.Context, userID string) (models.Presence, error) {
	var presence models.Presence
	err := r.db.WithContext(ctx).First(&presence, "user_id = ?", userID).Error
	if err != nil {
		return models.Presence{}, err
	}
	return presence, nil
}

// ListOnlineSince returns users marked online whose last_seen falls
// inside the freshness window, guarding against stale rows left by
// ungraceful disconnects.
func (r *presenceRepository) ListOnlineSince(ctx context.Context, since time.Time) ([]models.Presence, error) {
	var rows []models.Presence
	err := r.db.WithContext(ctx).
		Where("status = ? AND last_seen > ?", models.PresenceOnline, since).
		Order("last_seen DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
