// Package family builds the family-circle view: one record per member with
// the viewer's consent flags and, only where the member shares with the
// viewer, their last known location.
package family

import (
	"context"
	"math"
	"time"

	"github.com/askwhyharsh/familycircle/internal/consent"
	"github.com/askwhyharsh/familycircle/internal/location"
	"github.com/askwhyharsh/familycircle/internal/metrics"
	"github.com/askwhyharsh/familycircle/pkg/logger"
)

// User is a candidate as supplied by the user source. Coordinates are nil
// until the user has reported a location.
type User struct {
	ID          string
	Name        string
	Latitude    *float64
	Longitude   *float64
	LastUpdated *time.Time
}

type LocationStatus string

const (
	StatusShared      LocationStatus = "shared"
	StatusNotShared   LocationStatus = "not_shared"
	StatusUnavailable LocationStatus = "unavailable" // sharing, but nothing reported yet
)

// Member is the renderable family record. The location fields are only
// ever set when TheyAreSharingWithMe is true; otherwise they are absent
// from the JSON encoding, not null.
type Member struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	TheyAreSharingWithMe bool           `json:"they_are_sharing_with_me"`
	IAmSharingWithThem   bool           `json:"i_am_sharing_with_them"`
	Status               LocationStatus `json:"location_status"`
	Latitude             *float64       `json:"latitude,omitempty"`
	Longitude            *float64       `json:"longitude,omitempty"`
	LastUpdated          *time.Time     `json:"last_updated,omitempty"`
	Stale                bool           `json:"stale,omitempty"`
	DistanceKm           *float64       `json:"distance_km,omitempty"`
}

// ConsentResolver is satisfied by *consent.Resolver.
type ConsentResolver interface {
	Resolve(ctx context.Context, viewerID string, candidateIDs []string) (map[string]consent.Consent, error)
}

type Projector struct {
	resolver   ConsentResolver
	logger     logger.Logger
	staleAfter time.Duration
	now        func() time.Time
}

// NewProjector returns a projector. A zero staleAfter disables the stale flag.
func NewProjector(resolver ConsentResolver, staleAfter time.Duration, log logger.Logger) *Projector {
	return &Projector{
		resolver:   resolver,
		logger:     log,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Project composes one Member per candidate, in input order.
func (p *Projector) Project(ctx context.Context, viewerID string, candidates []User) []Member {
	return p.ProjectFrom(ctx, viewerID, nil, candidates)
}

// ProjectFrom is Project plus distance_km for shared members when the
// viewer's own position is known.
func (p *Projector) ProjectFrom(ctx context.Context, viewerID string, origin *location.Point, candidates []User) []Member {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	consents, err := p.resolver.Resolve(ctx, viewerID, ids)
	if err != nil {
		p.logger.Warn("Consent resolution degraded, hiding unreadable locations",
			"viewer_id", viewerID,
			"candidates", len(ids),
			"error", err,
		)
	}

	members := make([]Member, len(candidates))
	for i, c := range candidates {
		cs := consents[c.ID]

		m := Member{
			ID:                   c.ID,
			Name:                 c.Name,
			TheyAreSharingWithMe: cs.TheyShareWithMe,
			IAmSharingWithThem:   cs.IShareWithThem,
			Status:               StatusNotShared,
		}

		if cs.TheyShareWithMe {
			p.attachLocation(&m, c, origin)
		}

		metrics.ProjectedMembers.WithLabelValues(string(m.Status)).Inc()
		members[i] = m
	}

	return members
}

// attachLocation copies the candidate's coordinates into fresh values so
// the member never aliases the caller's data.
func (p *Projector) attachLocation(m *Member, c User, origin *location.Point) {
	if c.Latitude == nil || c.Longitude == nil {
		m.Status = StatusUnavailable
		return
	}

	lat, lon := *c.Latitude, *c.Longitude
	m.Status = StatusShared
	m.Latitude = &lat
	m.Longitude = &lon

	if c.LastUpdated != nil {
		ts := *c.LastUpdated
		m.LastUpdated = &ts
		if p.staleAfter > 0 && p.now().Sub(ts) > p.staleAfter {
			m.Stale = true
		}
	}

	if origin != nil {
		d := location.Distance(origin.Lat, origin.Lon, lat, lon)
		if !math.IsNaN(d) {
			m.DistanceKm = &d
		}
	}
}
