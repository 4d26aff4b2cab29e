package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/askwhyharsh/familycircle/internal/storage"
	apperrors "github.com/askwhyharsh/familycircle/pkg/errors"
)

type SessionService interface {
	Create(ctx context.Context, userID, ipAddress string) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	Touch(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
}

type Service struct {
	redis storage.RedisClient
	ttl   time.Duration
}

// Session binds an opaque session id to an authenticated user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
	IPAddress string    `json:"ip_address"`
}

func NewService(redisClient storage.RedisClient, ttl time.Duration) *Service {
	return &Service{
		redis: redisClient,
		ttl:   ttl,
	}
}

func (s *Service) Create(ctx context.Context, userID, ipAddress string) (*Session, error) {
	now := time.Now()
	session := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		LastSeen:  now,
		IPAddress: ipAddress,
	}

	if err := s.save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, apperrors.ErrInvalidSessionID
	}

	data, err := s.redis.Get(ctx, s.sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// Touch refreshes LastSeen and the session TTL.
func (s *Service) Touch(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	session.LastSeen = time.Now()
	return s.save(ctx, session)
}

func (s *Service) Delete(ctx context.Context, sessionID string) error {
	return s.redis.Del(ctx, s.sessionKey(sessionID))
}

func (s *Service) save(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return s.redis.Set(ctx, s.sessionKey(session.ID), data, s.ttl)
}

func (s *Service) sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}
