package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusM is the mean Earth radius used for all great-circle
// distance calculations (metres).
const EarthRadiusM = 6371000.0

// ErrInvalidCoordinate indicates a latitude, longitude, or altitude
// outside its valid range.
var ErrInvalidCoordinate = errors.New("geo: invalid coordinate")

// Point is a geodetic position with altitude above a local vertical datum.
type Point struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeM    float64
}

// Validate checks coordinate ranges and altitude finiteness.
func (p Point) Validate() error {
	if math.IsNaN(p.LatitudeDeg) || p.LatitudeDeg < -90 || p.LatitudeDeg > 90 {
		return fmt.Errorf("%w: latitude %v out of [-90,90]", ErrInvalidCoordinate, p.LatitudeDeg)
	}
	if math.IsNaN(p.LongitudeDeg) || p.LongitudeDeg < -180 || p.LongitudeDeg > 180 {
		return fmt.Errorf("%w: longitude %v out of [-180,180]", ErrInvalidCoordinate, p.LongitudeDeg)
	}
	if math.IsNaN(p.AltitudeM) || math.IsInf(p.AltitudeM, 0) {
		return fmt.Errorf("%w: altitude %v not finite", ErrInvalidCoordinate, p.AltitudeM)
	}
	return nil
}

// Horizontal returns the great-circle distance between two points in
// metres via the haversine formula. Symmetric in its arguments and zero
// when the coordinates are identical.
func Horizontal(a, b Point) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}

	phi1 := radians(a.LatitudeDeg)
	phi2 := radians(b.LatitudeDeg)
	dphi := radians(b.LatitudeDeg - a.LatitudeDeg)
	dlambda := radians(b.LongitudeDeg - a.LongitudeDeg)

	sinPhi := math.Sin(dphi / 2)
	sinLambda := math.Sin(dlambda / 2)
	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	// Clamp against float drift so Sqrt(1-h) stays real near antipodes.
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusM * c, nil
}

// Vertical returns the absolute altitude difference in metres. Both
// altitudes are assumed to share the same local vertical datum.
func Vertical(a, b Point) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	return math.Abs(a.AltitudeM - b.AltitudeM), nil
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
