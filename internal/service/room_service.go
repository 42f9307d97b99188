package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/talkbase/realtime-api/internal/apperrors"
	"github.com/talkbase/realtime-api/internal/dto"
	"github.com/talkbase/realtime-api/internal/models"
	"github.com/talkbase/realtime-api/internal/repository"
)

// MessageSummaryProvider is the explicit query surface the room
// directory uses to enrich listings, instead of reaching into the
// message pipeline's storage.
type MessageSummaryProvider interface {
	RoomSummary(ctx context.Context, roomID, userID string, lastReadAt time.Time) (*dto.MessageResponse, int64, error)
}

// RoomService is the room membership directory: the source of truth
// for who may receive what.
type RoomService interface {
	// CreateRoom reports whether a room was actually created; a DIRECT
	// request that lands on an existing pair returns that room with
	// created=false.
	CreateRoom(ctx context.Context, creatorID string, req dto.RoomCreateRequest) (dto.RoomResponse, bool, error)
	JoinChannel(ctx context.Context, roomID, userID string) (dto.RoomResponse, error)
	AddMembers(ctx context.Context, roomID string, userIDs []string, requesterID string) ([]dto.ParticipantResponse, error)
	RemoveMember(ctx context.Context, roomID, userID, requesterID string) error
	DeleteRoom(ctx context.Context, roomID, requesterID string) error
	ListRooms(ctx context.Context, userID string) ([]dto.RoomResponse, error)
}

type roomService struct {
	repo      repository.RoomRepository
	summaries MessageSummaryProvider
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewRoomService constructs the room membership directory.
func NewRoomService(repo repository.RoomRepository, summaries MessageSummaryProvider, validate *validator.Validate, logger zerolog.Logger) RoomService {
	return &roomService{
		repo:      repo,
		summaries: summaries,
		validator: validate,
		logger:    logger.With().Str("component", "room_service").Logger(),
		tracer:    otel.Tracer("github.com/talkbase/realtime-api/internal/service/room"),
		now:       time.Now,
	}
}

func (s *roomService) CreateRoom(ctx context.Context, creatorID string, req dto.RoomCreateRequest) (dto.RoomResponse, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.RoomResponse{}, false, apperrors.InvalidArgument(err.Error())
	}

	others := dedupeParticipants(req.ParticipantIDs, creatorID)

	spanCtx, span := s.tracer.Start(ctx, "room.create", trace.WithAttributes(
		attribute.String("room.type", req.Type),
		attribute.String("room.creator_id", creatorID),
	))
	defer span.End()

	switch models.RoomType(req.Type) {
	case models.RoomTypeDirect:
		return s.createDirect(spanCtx, creatorID, others)
	case models.RoomTypeGroup:
		if len(others) == 0 {
			return dto.RoomResponse{}, false, apperrors.InvalidArgument("a group room requires at least one other participant")
		}
		room, err := s.create(spanCtx, creatorID, others, req, "")
		return room, err == nil, err
	case models.RoomTypeChannel:
		if strings.TrimSpace(req.Name) == "" {
			return dto.RoomResponse{}, false, apperrors.InvalidArgument("a channel requires a name")
		}
		if req.IsPublic {
			// Public channels start with the creator only; everyone
			// else joins on their own.
			others = nil
		}
		room, err := s.create(spanCtx, creatorID, others, req, "")
		return room, err == nil, err
	default:
		return dto.RoomResponse{}, false, apperrors.InvalidArgument("unsupported room type")
	}
}

// createDirect deduplicates DIRECT rooms by unordered user pair and
// returns the pre-existing room, flagged as not created, when one
// exists.
func (s *roomService) createDirect(ctx context.Context, creatorID string, others []string) (dto.RoomResponse, bool, error) {
	if len(others) != 1 {
		return dto.RoomResponse{}, false, apperrors.Conflict("a direct room requires exactly one other participant")
	}

	pairKey := models.DirectPairKey(creatorID, others[0])
	existing, err := s.repo.FindDirectByPairKey(ctx, pairKey)
	if err == nil {
		return dto.NewRoomResponse(existing), false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.RoomResponse{}, false, err
	}

	room, err := s.create(ctx, creatorID, others, dto.RoomCreateRequest{Type: string(models.RoomTypeDirect)}, pairKey)
	return room, err == nil, err
}

func (s *roomService) create(ctx context.Context, creatorID string, others []string, req dto.RoomCreateRequest, pairKey string) (dto.RoomResponse, error) {
	room := models.Room{
		ID:          uuid.NewString(),
		Type:        models.RoomType(req.Type),
		Name:        strings.TrimSpace(req.Name),
		IsPublic:    req.IsPublic,
		Description: strings.TrimSpace(req.Description),
		CreatedBy:   creatorID,
		PairKey:     pairKey,
	}

	participants := make([]models.Participant, 0, len(others)+1)
	participants = append(participants, models.Participant{UserID: creatorID, Role: models.RoleAdmin})
	for _, userID := range others {
		participants = append(participants, models.Participant{UserID: userID, Role: models.RoleMember})
	}

	if err := s.repo.Create(ctx, &room, participants); err != nil {
		return dto.RoomResponse{}, err
	}

	s.logger.Info().Str("room_id", room.ID).Str("type", string(room.Type)).Str("creator_id", creatorID).Msg("room created")

	return dto.NewRoomResponse(room), nil
}

func (s *roomService) JoinChannel(ctx context.Context, roomID, userID string) (dto.RoomResponse, error) {
	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return dto.RoomResponse{}, translateNotFound(err, "room not found")
	}

	if room.Type != models.RoomTypeChannel {
		return dto.RoomResponse{}, apperrors.InvalidArgument("only channels can be joined")
	}
	if !room.IsPublic {
		return dto.RoomResponse{}, apperrors.Forbidden("channel is not public")
	}
	for _, participant := range room.Participants {
		if participant.UserID == userID {
			return dto.RoomResponse{}, apperrors.Conflict("already a member of this channel")
		}
	}

	if err := s.repo.AddParticipants(ctx, []models.Participant{{RoomID: roomID, UserID: userID, Role: models.RoleMember}}); err != nil {
		return dto.RoomResponse{}, err
	}

	room, err = s.repo.GetByID(ctx, roomID)
	if err != nil {
		return dto.RoomResponse{}, err
	}

	return dto.NewRoomResponse(room), nil
}

func (s *roomService) AddMembers(ctx context.Context, roomID string, userIDs []string, requesterID string) ([]dto.ParticipantResponse, error) {
	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return nil, translateNotFound(err, "room not found")
	}

	if room.Type == models.RoomTypeDirect {
		return nil, apperrors.InvalidArgument("cannot add members to a direct room")
	}

	if err := s.requireAdmin(room, requesterID); err != nil {
		return nil, err
	}

	existing := make(map[string]struct{}, len(room.Participants))
	for _, participant := range room.Participants {
		existing[participant.UserID] = struct{}{}
	}

	toAdd := make([]models.Participant, 0, len(userIDs))
	for _, userID := range dedupeParticipants(userIDs, "") {
		if _, ok := existing[userID]; ok {
			continue
		}
		toAdd = append(toAdd, models.Participant{RoomID: roomID, UserID: userID, Role: models.RoleMember})
	}

	if err := s.repo.AddParticipants(ctx, toAdd); err != nil {
		return nil, err
	}

	added := make([]dto.ParticipantResponse, 0, len(toAdd))
	for _, participant := range toAdd {
		added = append(added, dto.NewParticipantResponse(participant))
	}

	s.logger.Info().Str("room_id", roomID).Int("added", len(added)).Str("requester_id", requesterID).Msg("members added")

	return added, nil
}

func (s *roomService) RemoveMember(ctx context.Context, roomID, userID, requesterID string) error {
	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return translateNotFound(err, "room not found")
	}

	if room.Type == models.RoomTypeDirect {
		return apperrors.InvalidArgument("cannot remove members from a direct room")
	}

	// Self-leave is always allowed; removing someone else needs ADMIN.
	if requesterID != userID {
		if err := s.requireAdmin(room, requesterID); err != nil {
			return err
		}
	}

	if err := s.repo.RemoveParticipant(ctx, roomID, userID); err != nil {
		return err
	}

	s.logger.Info().Str("room_id", roomID).Str("user_id", userID).Str("requester_id", requesterID).Msg("member removed")

	return nil
}

func (s *roomService) DeleteRoom(ctx context.Context, roomID, requesterID string) error {
	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return translateNotFound(err, "room not found")
	}

	if err := s.requireAdmin(room, requesterID); err != nil {
		return err
	}

	spanCtx, span := s.tracer.Start(ctx, "room.delete", trace.WithAttributes(attribute.String("room.id", roomID)))
	defer span.End()

	if err := s.repo.DeleteCascade(spanCtx, roomID); err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Info().Str("room_id", roomID).Str("requester_id", requesterID).Msg("room deleted")

	return nil
}

func (s *roomService) ListRooms(ctx context.Context, userID string) ([]dto.RoomResponse, error) {
	rooms, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		response := dto.NewRoomResponse(room)
		if s.summaries != nil {
			lastReadAt := time.Time{}
			for _, participant := range room.Participants {
				if participant.UserID == userID {
					lastReadAt = participant.LastReadAt
					break
				}
			}
			last, unread, err := s.summaries.RoomSummary(ctx, room.ID, userID, lastReadAt)
			if err != nil {
				s.logger.Warn().Err(err).Str("room_id", room.ID).Msg("failed to load room summary")
			} else {
				response.LastMessage = last
				response.UnreadCount = unread
			}
		}
		responses = append(responses, response)
	}

	return responses, nil
}

func (s *roomService) requireAdmin(room models.Room, userID string) error {
	for _, participant := range room.Participants {
		if participant.UserID == userID {
			if participant.Role == models.RoleAdmin {
				return nil
			}
			return apperrors.Forbidden("operation requires room admin")
		}
	}
	return apperrors.Forbidden("not a participant of this room")
}

// dedupeParticipants drops duplicates, blanks, and the excluded user.
func dedupeParticipants(userIDs []string, exclude string) []string {
	seen := make(map[string]struct{}, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		userID = strings.TrimSpace(userID)
		if userID == "" || userID == exclude {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		out = append(out, userID)
	}
	return out
}

func translateNotFound(err error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(message)
	}
	return err
}
