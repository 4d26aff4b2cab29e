// Package consent decides, per candidate, whether a viewer may see that
// candidate's live location and whether the viewer shares back.
package consent

import (
	"context"
	"fmt"

	"github.com/askwhyharsh/familycircle/internal/metrics"
	"github.com/askwhyharsh/familycircle/internal/sharing"
	apperrors "github.com/askwhyharsh/familycircle/pkg/errors"
)

// Consent is both directions of sharing between a viewer and one candidate.
type Consent struct {
	TheyShareWithMe bool `json:"they_are_sharing_with_me"`
	IShareWithThem  bool `json:"i_am_sharing_with_them"`
}

type Resolver struct {
	edges sharing.Reader
}

func NewResolver(edges sharing.Reader) *Resolver {
	return &Resolver{edges: edges}
}

// Resolve looks up edge(candidate -> viewer) and edge(viewer -> candidate)
// for every candidate with one batched read per direction.
//
// The returned map always has an entry for every candidate. A direction
// whose read failed resolves to false for all candidates and the error is
// returned alongside the map; location is never exposed on uncertainty.
func (r *Resolver) Resolve(ctx context.Context, viewerID string, candidateIDs []string) (map[string]Consent, error) {
	result := make(map[string]Consent, len(candidateIDs))

	others := make([]string, 0, len(candidateIDs))
	seen := make(map[string]struct{}, len(candidateIDs))
	for _, id := range candidateIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if id == viewerID {
			result[id] = Consent{TheyShareWithMe: true, IShareWithThem: true}
			continue
		}
		result[id] = Consent{}
		others = append(others, id)
	}

	if len(others) == 0 {
		metrics.RecordConsent(len(candidateIDs), false)
		return result, nil
	}

	var errs []error

	inbound, err := r.edges.SharingWith(ctx, others, viewerID)
	if err != nil {
		errs = append(errs, fmt.Errorf("inbound edges: %w", err))
		inbound = nil
	}

	outbound, err := r.edges.SharedBy(ctx, viewerID, others)
	if err != nil {
		errs = append(errs, fmt.Errorf("outbound edges: %w", err))
		outbound = nil
	}

	for _, id := range others {
		result[id] = Consent{
			TheyShareWithMe: inbound[id],
			IShareWithThem:  outbound[id],
		}
	}

	metrics.RecordConsent(len(candidateIDs), len(errs) > 0)

	if len(errs) > 0 {
		return result, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, errs)
	}
	return result, nil
}
