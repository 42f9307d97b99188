package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/talkbase/realtime-api/internal/dto"
	"github.com/talkbase/realtime-api/internal/models"
	"github.com/talkbase/realtime-api/internal/repository"
)

// PresenceService tracks per-user online/offline status with a
// staleness guard.
type PresenceService interface {
	Update(ctx context.Context, userID string, status models.PresenceStatus, socketID string) (dto.PresenceEvent, error)
	OnlineUsers(ctx context.Context) ([]dto.PresenceResponse, error)
}

type presenceService struct {
	repo   repository.PresenceRepository
	window time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewPresenceService constructs the presence tracker. The window
// bounds how stale an online row may be before it is treated as
// offline.
func NewPresenceService(repo repository.PresenceRepository, window time.Duration, logger zerolog.Logger) PresenceService {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &presenceService{
		repo:   repo,
		window: window,
		logger: logger.With().Str("component", "presence_service").Logger(),
		now:    time.Now,
	}
}

// Update upserts the presence row last-writer-wins, always stamping
// the observation time.
func (s *presenceService) Update(ctx context.Context, userID string, status models.PresenceStatus, socketID string) (dto.PresenceEvent, error) {
	seen := s.now()
	presence := models.Presence{
		UserID:   userID,
		Status:   status,
		SocketID: socketID,
		LastSeen: seen,
	}

	if err := s.repo.Upsert(ctx, &presence); err != nil {
		return dto.PresenceEvent{}, err
	}

	return dto.PresenceEvent{UserID: userID, Status: string(status), LastSeen: seen}, nil
}

// OnlineUsers returns users marked online whose last_seen falls inside
// the freshness window; stale rows from ungraceful disconnects are
// excluded.
func (s *presenceService) OnlineUsers(ctx context.Context) ([]dto.PresenceResponse, error) {
	rows, err := s.repo.ListOnlineSince(ctx, s.now().Add(-s.window))
	if err != nil {
		return nil, err
	}

	out := make([]dto.PresenceResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, dto.PresenceResponse{
			UserID:   row.UserID,
			Status:   string(row.Status),
			SocketID: row.SocketID,
			LastSeen: row.LastSeen,
		})
	}

	return out, nil
}
