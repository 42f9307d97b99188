package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/talkbase/realtime-api/internal/apperrors"
	"github.com/talkbase/realtime-api/internal/dto"
	"github.com/talkbase/realtime-api/internal/models"
	"github.com/talkbase/realtime-api/internal/observability"
	"github.com/talkbase/realtime-api/internal/repository"
)

// MessageService is the message pipeline: validate, persist,
// scrub-on-delete, paginate.
type MessageService interface {
	Send(ctx context.Context, senderID string, req dto.MessageSendRequest) (dto.MessageResponse, error)
	History(ctx context.Context, userID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error)
	Delete(ctx context.Context, userID, messageID string) (dto.MessageResponse, error)
	MarkRead(ctx context.Context, roomID, userID string) error
	GetEnriched(ctx context.Context, messageID string) (dto.MessageResponse, error)
	RoomSummary(ctx context.Context, roomID, userID string, lastReadAt time.Time) (*dto.MessageResponse, int64, error)
}

type messageService struct {
	messages  repository.MessageRepository
	rooms     repository.RoomRepository
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	sanitizer *bluemonday.Policy
	now       func() time.Time
}

// NewMessageService constructs the message pipeline.
func NewMessageService(messages repository.MessageRepository, rooms repository.RoomRepository, validate *validator.Validate, logger zerolog.Logger) MessageService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	return &messageService{
		messages:  messages,
		rooms:     rooms,
		validator: validate,
		logger:    logger.With().Str("component", "message_service").Logger(),
		tracer:    otel.Tracer("github.com/talkbase/realtime-api/internal/service/message"),
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

func (s *messageService) Send(ctx context.Context, senderID string, req dto.MessageSendRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, apperrors.InvalidArgument(err.Error())
	}

	if err := s.requireParticipant(ctx, req.RoomID, senderID); err != nil {
		return dto.MessageResponse{}, err
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(req.Content))
	if clean == "" {
		return dto.MessageResponse{}, apperrors.InvalidArgument("message content must not be empty")
	}

	messageType := models.MessageType(req.Type)
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	spanCtx, span := s.tracer.Start(ctx, "message.send", trace.WithAttributes(
		attribute.String("message.room_id", req.RoomID),
		attribute.String("message.sender_id", senderID),
		attribute.String("message.type", string(messageType)),
	))
	defer span.End()

	message := models.Message{
		ID:       uuid.NewString(),
		RoomID:   req.RoomID,
		SenderID: senderID,
		Content:  clean,
		Type:     messageType,
		Metadata: datatypes.JSONMap(req.Metadata),
	}

	if err := s.messages.Create(spanCtx, &message); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}

	if err := s.rooms.Touch(spanCtx, req.RoomID, s.now()); err != nil {
		s.logger.Warn().Err(err).Str("room_id", req.RoomID).Msg("failed to touch room timestamp")
	}

	observability.MessagesSent().WithLabelValues(string(messageType)).Inc()

	return dto.NewMessageResponse(message), nil
}

func (s *messageService) History(ctx context.Context, userID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, apperrors.InvalidArgument(err.Error())
	}

	if err := s.requireParticipant(ctx, query.RoomID, userID); err != nil {
		return nil, err
	}

	before := time.Time{}
	if query.Before != nil {
		before = *query.Before
	}

	messages, err := s.messages.ListByRoom(ctx, query.RoomID, before, query.Limit)
	if err != nil {
		return nil, err
	}

	return dto.NewMessageResponseSlice(messages), nil
}

// Delete sets the deletion timestamp; the scrub itself happens at
// projection time so live and historical readers see the same
// tombstone. Deletion is one-way.
func (s *messageService) Delete(ctx context.Context, userID, messageID string) (dto.MessageResponse, error) {
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return dto.MessageResponse{}, translateNotFound(err, "message not found")
	}

	if message.SenderID != userID {
		participant, err := s.rooms.GetParticipant(ctx, message.RoomID, userID)
		if err != nil || participant.Role != models.RoleAdmin {
			return dto.MessageResponse{}, apperrors.Forbidden("only the sender or a room admin can delete a message")
		}
	}

	if message.DeletedAt == nil {
		if err := s.messages.MarkDeleted(ctx, messageID, s.now()); err != nil {
			return dto.MessageResponse{}, err
		}
	}

	s.logger.Info().Str("message_id", messageID).Str("user_id", userID).Msg("message deleted")

	return s.GetEnriched(ctx, messageID)
}

// MarkRead advances the caller's read cursor; a non-participant is a
// silent no-op.
func (s *messageService) MarkRead(ctx context.Context, roomID, userID string) error {
	if _, err := s.rooms.GetParticipant(ctx, roomID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	return s.rooms.UpdateLastRead(ctx, roomID, userID, s.now())
}

// GetEnriched is the public query surface other engines use to fetch
// a message with reactions grouped and the scrub rule applied.
func (s *messageService) GetEnriched(ctx context.Context, messageID string) (dto.MessageResponse, error) {
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return dto.MessageResponse{}, translateNotFound(err, "message not found")
	}

	return dto.NewMessageResponse(message), nil
}

// RoomSummary returns the latest message projection plus the caller's
// unread count, computed on demand and never stored.
func (s *messageService) RoomSummary(ctx context.Context, roomID, userID string, lastReadAt time.Time) (*dto.MessageResponse, int64, error) {
	unread, err := s.messages.CountUnread(ctx, roomID, userID, lastReadAt)
	if err != nil {
		return nil, 0, err
	}

	latest, err := s.messages.LatestByRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, unread, nil
		}
		return nil, 0, err
	}

	response := dto.NewMessageResponse(latest)
	return &response, unread, nil
}

func (s *messageService) requireParticipant(ctx context.Context, roomID, userID string) error {
	if _, err := s.rooms.GetParticipant(ctx, roomID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.Forbidden("not a participant of this room")
		}
		return err
	}
	return nil
}
