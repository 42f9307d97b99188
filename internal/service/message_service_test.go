package service

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/talkbase/realtime-api/internal/apperrors"
	"github.com/talkbase/realtime-api/internal/dto"
	"github.com/talkbase/realtime-api/internal/models"
)

type stubMessageRepo struct {
	messages map[string]models.Message
	marked   []string
}

func newStubMessageRepo() *stubMessageRepo {
	return &stubMessageRepo{messages: make(map[string]models.Message)}
}

func (s *stubMessageRepo) Create(_ context.Context, message *models.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	s.messages[message.ID] = *message
	return nil
}

func (s *stubMessageRepo) GetByID(_ context.Context, id string) (models.Message, error) {
	message, ok := s.messages[id]
	if !ok {
		return models.Message{}, gorm.ErrRecordNotFound
	}
	return message, nil
}

func (s *stubMessageRepo) ListByRoom(_ context.Context, roomID string, before time.Time, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, message := range s.messages {
		if message.RoomID != roomID {
			continue
		}
		if !before.IsZero() && !message.CreatedAt.Before(before) {
			continue
		}
		out = append(out, message)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *stubMessageRepo) LatestByRoom(_ context.Context, roomID string) (models.Message, error) {
	history, _ := s.ListByRoom(context.Background(), roomID, time.Time{}, 0)
	if len(history) == 0 {
		return models.Message{}, gorm.ErrRecordNotFound
	}
	return history[len(history)-1], nil
}

func (s *stubMessageRepo) MarkDeleted(_ context.Context, id string, at time.Time) error {
	message, ok := s.messages[id]
	if !ok || message.DeletedAt != nil {
		return nil
	}
	s.marked = append(s.marked, id)
	message.DeletedAt = &at
	s.messages[id] = message
	return nil
}

func (s *stubMessageRepo) SetPinned(_ context.Context, id string, pinned bool) error {
	message := s.messages[id]
	message.IsPinned = pinned
	s.messages[id] = message
	return nil
}

func (s *stubMessageRepo) ListPinned(_ context.Context, roomID string) ([]models.Message, error) {
	var out []models.Message
	for _, message := range s.messages {
		if message.RoomID == roomID && message.IsPinned && message.DeletedAt == nil {
			out = append(out, message)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *stubMessageRepo) CountUnread(_ context.Context, roomID, userID string, since time.Time) (int64, error) {
	var count int64
	for _, message := range s.messages {
		if message.RoomID == roomID && message.SenderID != userID && message.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func newMessageServiceForTest(t *testing.T) (MessageService, *stubMessageRepo, *stubRoomRepo, string) {
	t.Helper()
	messages := newStubMessageRepo()
	rooms := newStubRoomRepo()
	validate := validator.New(validator.WithRequiredStructEnabled())
	svc := NewMessageService(messages, rooms, validate, zerolog.Nop())

	room := models.Room{ID: "room-1", Type: models.RoomTypeGroup}
	require.NoError(t, rooms.Create(context.Background(), &room, []models.Participant{
		{UserID: "u1", Role: models.RoleAdmin},
		{UserID: "u2", Role: models.RoleMember},
		{UserID: "u3", Role: models.RoleMember},
	}))

	return svc, messages, rooms, room.ID
}

func TestSendRejectsNonParticipants(t *testing.T) {
	svc, _, _, roomID := newMessageServiceForTest(t)

	_, err := svc.Send(context.Background(), "outsider", dto.MessageSendRequest{RoomID: roomID, Content: "hi"})
	require.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
}

func TestSendSanitizesMarkup(t *testing.T) {
	svc, _, _, roomID := newMessageServiceForTest(t)

	sent, err := svc.Send(context.Background(), "u1", dto.MessageSendRequest{RoomID: roomID, Content: "hello <b>world</b><script>alert(1)</script>"})
	require.NoError(t, err)
	require.NotContains(t, sent.Content, "script")
	require.Contains(t, sent.Content, "hello")

	_, err = svc.Send(context.Background(), "u1", dto.MessageSendRequest{RoomID: roomID, Content: "<script>alert(1)</script>"})
	require.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err), "content empty after sanitization is rejected")
}

func TestSendDefaultsToTextType(t *testing.T) {
	svc, _, _, roomID := newMessageServiceForTest(t)

	sent, err := svc.Send(context.Background(), "u1", dto.MessageSendRequest{RoomID: roomID, Content: "plain"})
	require.NoError(t, err)
	require.Equal(t, string(models.MessageTypeText), sent.Type)
}

func TestDeleteAuthorizationAndTombstone(t *testing.T) {
	svc, messages, _, roomID := newMessageServiceForTest(t)

	sent, err := svc.Send(context.Background(), "u2", dto.MessageSendRequest{RoomID: roomID, Content: "delete me"})
	require.NoError(t, err)

	_, err = svc.Delete(context.Background(), "u3", sent.ID)
	require.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err), "only the sender or an admin may delete")

	deleted, err := svc.Delete(context.Background(), "u2", sent.ID)
	require.NoError(t, err)
	require.True(t, deleted.IsDeleted)
	require.Equal(t, models.TombstoneContent, deleted.Content)
	require.Equal(t, string(models.MessageTypeSystem), deleted.Type)
	require.Nil(t, deleted.Metadata)

	// Deleting again stays deleted and does not move the timestamp.
	again, err := svc.Delete(context.Background(), "u1", sent.ID)
	require.NoError(t, err)
	require.True(t, again.IsDeleted)
	require.Len(t, messages.marked, 1)
}

func TestHistoryScrubsDeletedMessages(t *testing.T) {
	svc, _, _, roomID := newMessageServiceForTest(t)

	kept, err := svc.Send(context.Background(), "u1", dto.MessageSendRequest{RoomID: roomID, Content: "kept"})
	require.NoError(t, err)
	doomed, err := svc.Send(context.Background(), "u1", dto.MessageSendRequest{RoomID: roomID, Content: "doomed"})
	require.NoError(t, err)

	_, err = svc.Delete(context.Background(), "u1", doomed.ID)
	require.NoError(t, err)

	history, err := svc.History(context.Background(), "u2", dto.MessageHistoryQuery{RoomID: roomID})
	require.NoError(t, err)
	require.Len(t, history, 2, "tombstones remain in history")

	byID := make(map[string]dto.MessageResponse, len(history))
	for _, message := range history {
		byID[message.ID] = message
	}
	require.Equal(t, "kept", byID[kept.ID].Content)
	require.Equal(t, models.TombstoneContent, byID[doomed.ID].Content)
}

func TestMarkReadIgnoresNonParticipants(t *testing.T) {
	svc, _, _, roomID := newMessageServiceForTest(t)

	require.NoError(t, svc.MarkRead(context.Background(), roomID, "outsider"), "non-participants are a silent no-op")
}

func TestRoomSummaryCountsOnlyOthersMessages(t *testing.T) {
	svc, _, _, roomID := newMessageServiceForTest(t)

	_, err := svc.Send(context.Background(), "u1", dto.MessageSendRequest{RoomID: roomID, Content: "mine"})
	require.NoError(t, err)
	latest, err := svc.Send(context.Background(), "u2", dto.MessageSendRequest{RoomID: roomID, Content: "theirs"})
	require.NoError(t, err)

	last, unread, err := svc.RoomSummary(context.Background(), roomID, "u1", time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(1), unread)
	require.NotNil(t, last)
	require.Equal(t, latest.ID, last.ID)
}
