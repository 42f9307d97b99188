package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/talkbase/realtime-api/internal/apperrors"
	"github.com/talkbase/realtime-api/internal/dto"
	"github.com/talkbase/realtime-api/internal/models"
	"github.com/talkbase/realtime-api/internal/repository"
)

// MessageEnricher is the explicit query surface used to re-fetch a
// message with grouped reactions after a mutation.
type MessageEnricher interface {
	GetEnriched(ctx context.Context, messageID string) (dto.MessageResponse, error)
}

// ReactionService is the reaction & pin engine.
type ReactionService interface {
	AddReaction(ctx context.Context, userID string, req dto.ReactionRequest) (dto.MessageResponse, error)
	RemoveReaction(ctx context.Context, userID string, req dto.ReactionRequest) (dto.MessageResponse, error)
	PinMessage(ctx context.Context, userID, messageID string) (dto.MessageResponse, error)
	UnpinMessage(ctx context.Context, userID, messageID string) (dto.MessageResponse, error)
	ListPinned(ctx context.Context, roomID, userID string) ([]dto.MessageResponse, error)
}

type reactionService struct {
	reactions repository.ReactionRepository
	messages  repository.MessageRepository
	rooms     repository.RoomRepository
	enricher  MessageEnricher
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewReactionService constructs the reaction & pin engine.
func NewReactionService(reactions repository.ReactionRepository, messages repository.MessageRepository, rooms repository.RoomRepository, enricher MessageEnricher, validate *validator.Validate, logger zerolog.Logger) ReactionService {
	return &reactionService{
		reactions: reactions,
		messages:  messages,
		rooms:     rooms,
		enricher:  enricher,
		validator: validate,
		logger:    logger.With().Str("component", "reaction_service").Logger(),
	}
}

// AddReaction upserts the (message, user, emoji) row; repeat calls are
// no-ops.
func (s *reactionService) AddReaction(ctx context.Context, userID string, req dto.ReactionRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, apperrors.InvalidArgument(err.Error())
	}

	if err := s.guard(ctx, req.MessageID, userID); err != nil {
		return dto.MessageResponse{}, err
	}

	reaction := models.Reaction{MessageID: req.MessageID, UserID: userID, Emoji: req.Emoji}
	if err := s.reactions.Upsert(ctx, &reaction); err != nil {
		return dto.MessageResponse{}, err
	}

	return s.enricher.GetEnriched(ctx, req.MessageID)
}

// RemoveReaction deletes the row; removing a reaction that does not
// exist is success, not an error.
func (s *reactionService) RemoveReaction(ctx context.Context, userID string, req dto.ReactionRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, apperrors.InvalidArgument(err.Error())
	}

	if err := s.guard(ctx, req.MessageID, userID); err != nil {
		return dto.MessageResponse{}, err
	}

	if err := s.reactions.Delete(ctx, req.MessageID, userID, req.Emoji); err != nil {
		return dto.MessageResponse{}, err
	}

	return s.enricher.GetEnriched(ctx, req.MessageID)
}

// PinMessage requires room participation only; pinning is not an
// admin-gated operation.
func (s *reactionService) PinMessage(ctx context.Context, userID, messageID string) (dto.MessageResponse, error) {
	return s.setPinned(ctx, userID, messageID, true)
}

func (s *reactionService) UnpinMessage(ctx context.Context, userID, messageID string) (dto.MessageResponse, error) {
	return s.setPinned(ctx, userID, messageID, false)
}

func (s *reactionService) setPinned(ctx context.Context, userID, messageID string, pinned bool) (dto.MessageResponse, error) {
	if err := s.guard(ctx, messageID, userID); err != nil {
		return dto.MessageResponse{}, err
	}

	if err := s.messages.SetPinned(ctx, messageID, pinned); err != nil {
		return dto.MessageResponse{}, err
	}

	s.logger.Info().Str("message_id", messageID).Str("user_id", userID).Bool("pinned", pinned).Msg("pin state changed")

	return s.enricher.GetEnriched(ctx, messageID)
}

func (s *reactionService) ListPinned(ctx context.Context, roomID, userID string) ([]dto.MessageResponse, error) {
	if _, err := s.rooms.GetParticipant(ctx, roomID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Forbidden("not a participant of this room")
		}
		return nil, err
	}

	messages, err := s.messages.ListPinned(ctx, roomID)
	if err != nil {
		return nil, err
	}

	return dto.NewMessageResponseSlice(messages), nil
}

// guard resolves the message and verifies the caller belongs to its
// room.
func (s *reactionService) guard(ctx context.Context, messageID, userID string) error {
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return translateNotFound(err, "message not found")
	}

	if _, err := s.rooms.GetParticipant(ctx, message.RoomID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.Forbidden("not a participant of this room")
		}
		return err
	}

	return nil
}
