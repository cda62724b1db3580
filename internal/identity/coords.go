package identity

import (
	"math"
	"math/rand/v2"
)

// Coordinate bounds.
const (
	MinLng = -180.0
	MaxLng = 180.0
	MinLat = -90.0
	MaxLat = 90.0
)

// Coords is a longitude/latitude pair in degrees.
type Coords struct {
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
}

// ValidCoords reports whether c is finite and inside the valid ranges.
func ValidCoords(c Coords) bool {
	if math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) || math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) {
		return false
	}
	return c.Lng >= MinLng && c.Lng <= MaxLng && c.Lat >= MinLat && c.Lat <= MaxLat
}

// Jitter moves c by up to one degree on each axis so that users sharing a
// city do not stack on the map. The result stays within the valid ranges.
func Jitter(c Coords, rng *rand.Rand) Coords {
	return Coords{
		Lng: clamp(c.Lng+(rng.Float64()-0.5)*2, MinLng, MaxLng),
		Lat: clamp(c.Lat+(rng.Float64()-0.5)*2, MinLat, MaxLat),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
