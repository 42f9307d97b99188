package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/talkbase/realtime-api/internal/models"
)

// RoomRepository persists rooms and their membership records.
type RoomRepository interface {
	Create(ctx context.Context, room *models.Room, participants []models.Participant) error
	GetByID(ctx context.Context, id string) (models.Room, error)
	FindDirectByPairKey(ctx context.Context, pairKey string) (models.Room, error)
	ListByUser(ctx context.Context, userID string) ([]models.Room, error)
	Touch(ctx context.Context, roomID string, at time.Time) error
	AddParticipants(ctx context.Context, participants []models.Participant) error
	RemoveParticipant(ctx context.Context, roomID, userID string) error
	GetParticipant(ctx context.Context, roomID, userID string) (models.Participant, error)
	UpdateLastRead(ctx context.Context, roomID, userID string, at time.Time) error
	DeleteCascade(ctx context.Context, roomID string) error
}

type roomRepository struct {
	db *gorm.DB
}

// NewRoomRepository constructs a room repository backed by GORM.
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) Create(ctx context.Context, room *models.Room, participants []models.Participant) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		for i := range participants {
			participants[i].RoomID = room.ID
		}
		if len(participants) > 0 {
			if err := tx.Create(&participants).Error; err != nil {
				return err
			}
		}
		room.Participants = participants
		return nil
	})
}

func (r *roomRepository) GetByID(ctx context.Context, id string) (models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).Preload("Participants").First(&room, "id = ?", id).Error
	if err != nil {
		return models.Room{}, err
	}
	return room, nil
}

func (r *roomRepository) FindDirectByPairKey(ctx context.Context, pairKey string) (models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("type = ? AND pair_key = ?", models.RoomTypeDirect, pairKey).
		First(&room).Error
	if err != nil {
		return models.Room{}, err
	}
	return room, nil
}

func (r *roomRepository) ListByUser(ctx context.Context, userID string) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN participants ON participants.room_id = rooms.id AND participants.user_id = ?", userID).
		Order("rooms.updated_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *roomRepository) Touch(ctx context.Context, roomID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("id = ?", roomID).
		Update("updated_at", at).Error
}

func (r *roomRepository) AddParticipants(ctx context.Context, participants []models.Participant) error {
	if len(participants) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&participants).Error
}

func (r *roomRepository) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	return r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&models.Participant{}).Error
}

func (r *roomRepository) GetParticipant(ctx context.Context, roomID, userID string) (models.Participant, error) {
	var participant models.Participant
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&participant).Error
	if err != nil {
		return models.Participant{}, err
	}
	return participant, nil
}

func (r *roomRepository) UpdateLastRead(ctx context.Context, roomID, userID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("last_read_at", at).Error
}

// DeleteCascade removes a room and everything under it in an explicit
// order independent of store-level cascade configuration: reactions,
// then messages, then participants, then the room itself.
func (r *roomRepository) DeleteCascade(ctx context.Context, roomID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id IN (?)", tx.Model(&models.Message{}).Select("id").Where("room_id = ?", roomID)).
			Delete(&models.Reaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&models.Participant{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", roomID).Delete(&models.Room{}).Error
	})
}
