package location

import (
	"fmt"
	"math"
)

const earthRadiusKm = 6371.0 // mean Earth radius

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point is finite and inside the lat/lon ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Distance returns the great-circle distance in kilometers between two
// points given in degrees. Malformed input (non-finite or out of range) is
// not rejected; it yields NaN so callers can filter.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	if !(Point{Lat: lat1, Lon: lon1}).Valid() || !(Point{Lat: lat2, Lon: lon2}).Valid() {
		return math.NaN()
	}
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}

	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	deltaLat := toRadians(lat2 - lat1)
	deltaLon := toRadians(lon2 - lon1)

	// Haversine formula
	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// DistanceBetween is Distance for two Points.
func DistanceBetween(a, b Point) float64 {
	return Distance(a.Lat, a.Lon, b.Lat, b.Lon)
}

// FormatDistance renders a distance for display, e.g. "less than 100 m"
// or "3.4 km away".
func FormatDistance(km float64) string {
	switch {
	case math.IsNaN(km) || km < 0:
		return ""
	case km < 0.1:
		return "less than 100 m"
	}

	meters := int(math.Round(km*1000/50) * 50)
	if meters < 1000 {
		return fmt.Sprintf("%d m away", meters)
	}
	return fmt.Sprintf("%.1f km away", km)
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}
