package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/askwhyharsh/familycircle/internal/location"
	"github.com/askwhyharsh/familycircle/internal/storage"
	"github.com/askwhyharsh/familycircle/pkg/logger"
)

// ViewerLister is the part of the sharing store the notifier needs.
type ViewerLister interface {
	ViewersOf(ctx context.Context, ownerID string) ([]string, error)
}

// Notifier publishes location changes to the viewers allowed to see them.
type Notifier struct {
	redis   storage.RedisClient
	viewers ViewerLister
	logger  logger.Logger
}

func NewNotifier(redisClient storage.RedisClient, viewers ViewerLister, log logger.Logger) *Notifier {
	return &Notifier{
		redis:   redisClient,
		viewers: viewers,
		logger:  log,
	}
}

// LocationChanged fans loc out to every viewer with edge(owner -> viewer)
// enabled. If the viewer list cannot be read nothing is sent.
func (n *Notifier) LocationChanged(ctx context.Context, loc *location.Location) (int, error) {
	viewers, err := n.viewers.ViewersOf(ctx, loc.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to list viewers: %w", err)
	}

	msg := NewLocationMessage(loc.UserID, loc.Lat, loc.Lon, loc.UpdatedAt)
	sent := 0
	for _, viewerID := range viewers {
		if viewerID == loc.UserID {
			continue
		}
		if err := n.publish(ctx, viewerID, msg); err != nil {
			n.logger.Warn("Failed to publish live update", "viewer_id", viewerID, "error", err)
			continue
		}
		sent++
	}

	return sent, nil
}

// SharingRevoked tells viewerID to drop ownerID's marker.
func (n *Notifier) SharingRevoked(ctx context.Context, ownerID, viewerID string) error {
	return n.publish(ctx, viewerID, NewRevokedMessage(ownerID))
}

func (n *Notifier) publish(ctx context.Context, viewerID string, msg *Message) error {
	data, err := json.Marshal(envelope{ViewerID: viewerID, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal live update: %w", err)
	}
	return n.redis.Publish(ctx, channelPrefix+viewerID, data)
}
