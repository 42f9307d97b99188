package service

import (
	"context"
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

type stubRoomRepo struct {
	rooms   map[string]models.Room
	created []models.Room
	added   []models.Participant
	removed [][2]string
	deleted []string
}

func newStubRoomRepo() *stubRoomRepo {
	return &stubRoomRepo{rooms: make(map[string]models.Room)}
}

func (s *stubRoomRepo) Create(_ context.Context, room *models.Room, participants []models.Participant) error {
	for i := range participants {
		participants[i].RoomID = room.ID
	}
	room.Participants = participants
	s.rooms[room.ID] = *room
	s.created = append(s.created, *room)
	return nil
}

func (s *stubRoomRepo) GetByID(_ context.Context, id string) (models.Room, error) {
	room, ok := s.rooms[id]
	if !ok {
		return models.Room{}, gorm.ErrRecordNotFound
	}
	return room, nil
}

func (s *stubRoomRepo) FindDirectByPairKey(_ context.Context, pairKey string) (models.Room, error) {
	for _, room := range s.rooms {
		if room.Type == models.RoomTypeDirect && room.PairKey == pairKey {
			return room, nil
		}
	}
	return models.Room{}, gorm.ErrRecordNotFound
}

func (s *stubRoomRepo) ListByUser(_ context.Context, userID string) ([]models.Room, error) {
	var out []models.Room
	for _, room := range s.rooms {
		for _, participant := range room.Participants {
			if participant.UserID == userID {
				out = append(out, room)
				break
			}
		}
	}
	return out, nil
}

func (s *stubRoomRepo) Touch(_ context.Context, _ string, _ time.Time) error { return nil }

func (s *stubRoomRepo) AddParticipants(_ context.Context, participants []models.Participant) error {
	s.added = append(s.added, participants...)
	for _, participant := range participants {
		room := s.rooms[participant.RoomID]
		room.Participants = append(room.Participants, participant)
		s.rooms[participant.RoomID] = room
	}
	return nil
}

func (s *stubRoomRepo) RemoveParticipant(_ context.Context, roomID, userID string) error {
	s.removed = append(s.removed, [2]string{roomID, userID})
	room := s.rooms[roomID]
	kept := room.Participants[:0]
	for _, participant := range room.Participants {
		if participant.UserID != userID {
			kept = append(kept, participant)
		}
	}
	room.Participants = kept
	s.rooms[roomID] = room
	return nil
}

func (s *stubRoomRepo) GetParticipant(_ context.Context, roomID, userID string) (models.Participant, error) {
	room, ok := s.rooms[roomID]
	if !ok {
		return models.Participant{}, gorm.ErrRecordNotFound
	}
	for _, participant := range room.Participants {
		if participant.UserID == userID {
			return participant, nil
		}
	}
	return models.Participant{}, gorm.ErrRecordNotFound
}

func (s *stubRoomRepo) UpdateLastRead(_ context.Context, _, _ string, _ time.Time) error { return nil }

func (s *stubRoomRepo) DeleteCascade(_ context.Context, roomID string) error {
	s.deleted = append(s.deleted, roomID)
	delete(s.rooms, roomID)
	return nil
}

func newRoomServiceForTest(repo *stubRoomRepo) RoomService {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return NewRoomService(repo, nil, validate, zerolog.Nop())
}

func TestCreateRoomDirectDeduplicatesByPair(t *testing.T) {
	repo := newStubRoomRepo()
	svc := newRoomServiceForTest(repo)

	first, created, err := svc.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "DIRECT", ParticipantIDs: []string{"u2"}})
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := svc.CreateRoom(context.Background(), "u2", dto.RoomCreateRequest{Type: "DIRECT", ParticipantIDs: []string{"u1"}})
	require.NoError(t, err)
	require.False(t, created, "a repeat request resolves to the existing room")

	require.Equal(t, first.ID, second.ID, "same user pair resolves to the same direct room")
	require.Len(t, repo.created, 1)
}

func TestCreateRoomDirectRequiresExactlyOnePeer(t *testing.T) {
	svc := newRoomServiceForTest(newStubRoomRepo())

	_, _, err := svc.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "DIRECT"})
	require.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	_, _, err = svc.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "DIRECT", ParticipantIDs: []string{"u2", "u3"}})
	require.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestCreateRoomGroupRequiresAnotherParticipant(t *testing.T) {
	svc := newRoomServiceForTest(newStubRoomRepo())

	// The creator listing only themselves does not count as a peer.
	_, _, err := svc.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "GROUP", ParticipantIDs: []string{"u1"}})
	require.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))
}

func TestCreateRoomChannelRequiresName(t *testing.T) {
	svc := newRoomServiceForTest(newStubRoomRepo())

	_, _, err := svc.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "CHANNEL", Name: "   "})
	require.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))
}

func TestCreateRoomPublicChannelStartsWithCreatorOnly(t *testing.T) {
	repo := newStubRoomRepo()
	svc := newRoomServiceForTest(repo)

	room, created, err := svc.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{
		Type:           "CHANNEL",
		Name:           "announcements",
		IsPublic:       true,
		ParticipantIDs: []string{"u2", "u3"},
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Len(t, room.Participants, 1)
	require.Equal(t, "u1", room.Participants[0].UserID)
	require.Equal(t, string(models.RoleAdmin), room.Participants[0].Role)
}

func TestJoinChannelRules(t *testing.T) {
	repo := newStubRoomRepo()
	svc := newRoomServiceForTest(repo)

	group, _, err := svc.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "GROUP", ParticipantIDs: []string{"u2"}})
	require.NoError(t, err)
	_, err = svc.JoinChannel(context.Background(), group.ID, "u3")
	require.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))

	private, _, err := svc.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "CHANNEL", Name: "private"})
	require.NoError(t, err)
	_, err = svc.JoinChannel(context.Background(), private.ID, "u3")
	require.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	public, _, err := svc.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "CHANNEL", Name: "public", IsPublic: true})
	require.NoError(t, err)
	joined, err := svc.JoinChannel(context.Background(), public.ID, "u3")
	require.NoError(t, err)
	require.Len(t, joined.Participants, 2)

	_, err = svc.JoinChannel(context.Background(), public.ID, "u3")
	require.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestAddMembersRules(t *testing.T) {
	repo := newStubRoomRepo()
	svc := newRoomServiceForTest(repo)

	direct, _, err := svc.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "DIRECT", ParticipantIDs: []string{"u2"}})
	require.NoError(t, err)
	_, err = svc.AddMembers(context.Background(), direct.ID, []string{"u3"}, "u1")
	require.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))

	group, _, err := svc.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "GROUP", ParticipantIDs: []string{"u2"}})
	require.NoError(t, err)

	_, err = svc.AddMembers(context.Background(), group.ID, []string{"u3"}, "u2")
	require.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err), "plain members cannot add")

	added, err := svc.AddMembers(context.Background(), group.ID, []string{"u2", "u3"}, "u1")
	require.NoError(t, err)
	require.Len(t, added, 1, "existing members are skipped")
	require.Equal(t, "u3", added[0].UserID)
}

func TestRemoveMemberRules(t *testing.T) {
	repo := newStubRoomRepo()
	svc := newRoomServiceForTest(repo)

	group, _, err := svc.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "GROUP", ParticipantIDs: []string{"u2", "u3"}})
	require.NoError(t, err)

	err = svc.RemoveMember(context.Background(), group.ID, "u3", "u2")
	require.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err), "non-admins cannot remove others")

	require.NoError(t, svc.RemoveMember(context.Background(), group.ID, "u2", "u2"), "self-leave is always allowed")
	require.NoError(t, svc.RemoveMember(context.Background(), group.ID, "u3", "u1"), "admins can remove others")
}

func TestDeleteRoomRequiresAdmin(t *testing.T) {
	repo := newStubRoomRepo()
	svc := newRoomServiceForTest(repo)

	group, _, err := svc.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "GROUP", ParticipantIDs: []string{"u2"}})
	require.NoError(t, err)

	err = svc.DeleteRoom(context.Background(), group.ID, "u2")
	require.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	require.NoError(t, svc.DeleteRoom(context.Background(), group.ID, "u1"))
	require.Equal(t, []string{group.ID}, repo.deleted)
}
