package sharing

import (
	"context"
	"errors"
	"fmt"

	"github.com/askwhyharsh/familycircle/internal/metrics"
	apperrors "github.com/askwhyharsh/familycircle/pkg/errors"
	"github.com/askwhyharsh/familycircle/pkg/logger"
)

// Directory reports whether a user id exists upstream.
type Directory interface {
	UserExists(ctx context.Context, id string) (bool, error)
}

// Result is the stable shape the toggle control switches on.
type Result struct {
	Success bool   `json:"success"`
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

type Toggler struct {
	store     Store
	directory Directory
	logger    logger.Logger
}

// NewToggler builds the toggle handler. directory may be nil, in which case
// viewer ids are not checked for existence.
func NewToggler(store Store, directory Directory, log logger.Logger) *Toggler {
	return &Toggler{
		store:     store,
		directory: directory,
		logger:    log,
	}
}

// SetSharing sets edge(ownerID -> viewerID) to enabled on behalf of actorID,
// the authenticated user. Only the owner may change their own edge.
// Repeating a call with the same value succeeds and leaves one edge.
func (t *Toggler) SetSharing(ctx context.Context, actorID, ownerID, viewerID string, enabled bool) Result {
	if actorID == "" || actorID != ownerID {
		t.logger.Warn("Rejected sharing toggle by non-owner",
			"actor_id", actorID,
			"owner_id", ownerID,
			"viewer_id", viewerID,
		)
		return t.fail(enabled, "forbidden", apperrors.ErrNotOwner)
	}

	if viewerID == "" {
		return t.fail(enabled, "not_found", apperrors.ErrUserNotFound)
	}

	if t.directory != nil && viewerID != ownerID {
		exists, err := t.directory.UserExists(ctx, viewerID)
		if err != nil {
			return t.fail(enabled, "store_error", fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err))
		}
		if !exists {
			return t.fail(enabled, "not_found", apperrors.ErrUserNotFound)
		}
	}

	if err := t.store.UpsertSharingEdge(ctx, ownerID, viewerID, enabled); err != nil {
		t.logger.Error("Failed to store sharing edge",
			"owner_id", ownerID,
			"viewer_id", viewerID,
			"error", err,
		)
		return t.fail(enabled, "store_error", fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err))
	}

	metrics.RecordToggle(enabled, "ok")
	t.logger.Info("Sharing updated",
		"owner_id", ownerID,
		"viewer_id", viewerID,
		"enabled", enabled,
	)

	return Result{Success: true, Enabled: enabled}
}

func (t *Toggler) fail(enabled bool, outcome string, err error) Result {
	metrics.RecordToggle(enabled, outcome)
	return Result{Success: false, Error: err.Error(), Err: err}
}

// IsForbidden reports whether a failed result was an authorization failure.
func (r Result) IsForbidden() bool {
	return errors.Is(r.Err, apperrors.ErrNotOwner)
}
