package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/askwhyharsh/familycircle/internal/storage"
	apperrors "github.com/askwhyharsh/familycircle/pkg/errors"
)

type LocationService interface {
	UpdateLocation(ctx context.Context, userID string, lat, lon float64) (*Location, error)
	GetLocation(ctx context.Context, userID string) (*Location, error)
	GetLocations(ctx context.Context, userIDs []string) (map[string]*Location, error)
}

type Service struct {
	redis            storage.RedisClient
	geohashPrecision int
	now              func() time.Time
}

// Location is a user's last reported position.
type Location struct {
	UserID    string    `json:"user_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Geohash   string    `json:"geohash"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l *Location) Point() Point {
	return Point{Lat: l.Lat, Lon: l.Lon}
}

func NewService(redisClient storage.RedisClient, geohashPrecision int) *Service {
	return &Service{
		redis:            redisClient,
		geohashPrecision: geohashPrecision,
		now:              time.Now,
	}
}

func (s *Service) UpdateLocation(ctx context.Context, userID string, lat, lon float64) (*Location, error) {
	if !(Point{Lat: lat, Lon: lon}).Valid() {
		return nil, apperrors.ErrInvalidCoordinates
	}

	location := &Location{
		UserID:    userID,
		Lat:       lat,
		Lon:       lon,
		Geohash:   Encode(lat, lon, s.geohashPrecision),
		UpdatedAt: s.now().UTC(),
	}

	data, err := json.Marshal(location)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal location: %w", err)
	}

	// Last known location is kept until overwritten; staleness is judged
	// from UpdatedAt by readers.
	if err := s.redis.Set(ctx, s.locationKey(userID), data, 0); err != nil {
		return nil, fmt.Errorf("failed to store location: %w", err)
	}

	return location, nil
}

func (s *Service) GetLocation(ctx context.Context, userID string) (*Location, error) {
	data, err := s.redis.Get(ctx, s.locationKey(userID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrLocationNotFound
		}
		return nil, fmt.Errorf("failed to get location: %w", err)
	}

	var location Location
	if err := json.Unmarshal([]byte(data), &location); err != nil {
		return nil, fmt.Errorf("failed to unmarshal location: %w", err)
	}

	return &location, nil
}

// GetLocations fetches many users' last locations in one MGET. Users that
// never reported, or whose record is unreadable, are absent from the map.
func (s *Service) GetLocations(ctx context.Context, userIDs []string) (map[string]*Location, error) {
	locations := make(map[string]*Location, len(userIDs))
	if len(userIDs) == 0 {
		return locations, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = s.locationKey(id)
	}

	values, err := s.redis.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("failed to get locations: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}

		var location Location
		if err := json.Unmarshal([]byte(raw), &location); err != nil {
			continue
		}
		locations[userIDs[i]] = &location
	}

	return locations, nil
}

func (s *Service) locationKey(userID string) string {
	return fmt.Sprintf("location:%s", userID)
}
