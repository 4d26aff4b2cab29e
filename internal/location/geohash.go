package location

import (
	"math"

	"github.com/mmcloughlin/geohash"
)

// kilometers per degree of latitude
const kmPerDegree = earthRadiusKm * math.Pi / 180

// Encode encodes latitude and longitude into a geohash of the given length.
func Encode(latitude, longitude float64, precision int) string {
	return geohash.EncodeWithPrecision(latitude, longitude, uint(precision))
}

// Cover returns the geohash cell containing the point plus its 8 neighbors.
// It is used as a coarse prefilter; exact distance is always recomputed.
func Cover(p Point, precision int) []string {
	center := Encode(p.Lat, p.Lon, precision)
	cells := make([]string, 0, 9)
	cells = append(cells, center)
	return append(cells, geohash.Neighbors(center)...)
}

// PrecisionForRadius picks the longest geohash, at most maxPrecision, whose
// cell around center is at least radiusKm tall and wide, so that a 3x3
// cover contains the whole search circle. Cell width is measured at the
// most poleward latitude the circle reaches.
func PrecisionForRadius(center Point, radiusKm float64, maxPrecision int) int {
	reachLat := math.Abs(center.Lat) + radiusKm/kmPerDegree
	if reachLat > 89.9 {
		reachLat = 89.9
	}
	shrink := math.Cos(toRadians(reachLat))

	for precision := maxPrecision; precision > 1; precision-- {
		box := geohash.BoundingBox(Encode(center.Lat, center.Lon, precision))
		heightKm := (box.MaxLat - box.MinLat) * kmPerDegree
		widthKm := (box.MaxLng - box.MinLng) * kmPerDegree * shrink
		if math.Min(heightKm, widthKm) >= radiusKm {
			return precision
		}
	}
	return 1
}
