// Package proximity annotates content with its distance from a viewer.
package proximity

import (
	"math"
	"slices"

	"github.com/askwhyharsh/familycircle/internal/location"
	"github.com/askwhyharsh/familycircle/internal/metrics"
)

// Locatable is any content record that may carry coordinates.
type Locatable interface {
	Coordinates() (lat, lon float64, ok bool)
}

// Annotated pairs an item with its distance from the viewer. DistanceKm is
// nil when the viewer location is unknown or the distance is not a number.
type Annotated[T Locatable] struct {
	Item       T        `json:"item"`
	DistanceKm *float64 `json:"distance_km"`
}

// Annotate computes each item's distance from origin. A nil origin is the
// normal case for anonymous or location-denied viewers: every item comes
// back with a nil distance. Order and count are preserved; nothing is sorted.
func Annotate[T Locatable](origin *location.Point, items []T) []Annotated[T] {
	out := make([]Annotated[T], len(items))
	withDistance := 0

	for i, item := range items {
		out[i].Item = item
		if origin == nil {
			continue
		}

		lat, lon, ok := item.Coordinates()
		if !ok {
			continue
		}

		d := location.Distance(origin.Lat, origin.Lon, lat, lon)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			continue
		}
		out[i].DistanceKm = &d
		withDistance++
	}

	metrics.AnnotatedItems.WithLabelValues("true").Add(float64(withDistance))
	metrics.AnnotatedItems.WithLabelValues("false").Add(float64(len(items) - withDistance))

	return out
}

// SortByDistance sorts in place, nearest first, keeping items without a
// distance at the end. The sort is stable.
func SortByDistance[T Locatable](items []Annotated[T]) {
	slices.SortStableFunc(items, func(a, b Annotated[T]) int {
		switch {
		case a.DistanceKm == nil && b.DistanceKm == nil:
			return 0
		case a.DistanceKm == nil:
			return 1
		case b.DistanceKm == nil:
			return -1
		case *a.DistanceKm < *b.DistanceKm:
			return -1
		case *a.DistanceKm > *b.DistanceKm:
			return 1
		default:
			return 0
		}
	})
}

// Within keeps items whose distance is at most maxKm, dropping items without
// a distance. Only meaningful when the items were annotated from a known
// viewer location.
func Within[T Locatable](items []Annotated[T], maxKm float64) []Annotated[T] {
	out := make([]Annotated[T], 0, len(items))
	for _, a := range items {
		if a.DistanceKm != nil && *a.DistanceKm <= maxKm {
			out = append(out, a)
		}
	}
	return out
}
