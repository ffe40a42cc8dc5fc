package geo

import (
	"errors"
	"math"
	"testing"
)

func TestHorizontalSymmetric(t *testing.T) {
	pairs := []struct {
		a, b Point
	}{
		{Point{LatitudeDeg: 47.3977, LongitudeDeg: 8.5456}, Point{LatitudeDeg: 47.3980, LongitudeDeg: 8.5461}},
		{Point{LatitudeDeg: -33.8688, LongitudeDeg: 151.2093}, Point{LatitudeDeg: 51.5074, LongitudeDeg: -0.1278}},
		{Point{LatitudeDeg: 0, LongitudeDeg: 179.9}, Point{LatitudeDeg: 0, LongitudeDeg: -179.9}},
	}
	for _, pair := range pairs {
		ab, err := Horizontal(pair.a, pair.b)
		if err != nil {
			t.Fatalf("horizontal(a,b): %v", err)
		}
		ba, err := Horizontal(pair.b, pair.a)
		if err != nil {
			t.Fatalf("horizontal(b,a): %v", err)
		}
		if ab != ba {
			t.Fatalf("asymmetric distance: %v vs %v", ab, ba)
		}
	}
}

func TestHorizontalIdentityIsZero(t *testing.T) {
	p := Point{LatitudeDeg: 47.3977, LongitudeDeg: 8.5456, AltitudeM: 120}
	d, err := Horizontal(p, p)
	if err != nil {
		t.Fatalf("horizontal: %v", err)
	}
	if d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}

func TestHorizontalKnownDistance(t *testing.T) {
	// One degree of latitude on the reference sphere.
	a := Point{LatitudeDeg: 0, LongitudeDeg: 0}
	b := Point{LatitudeDeg: 1, LongitudeDeg: 0}
	d, err := Horizontal(a, b)
	if err != nil {
		t.Fatalf("horizontal: %v", err)
	}
	want := EarthRadiusM * math.Pi / 180
	if math.Abs(d-want) > 1e-6 {
		t.Fatalf("one degree of latitude: got %v want %v", d, want)
	}
}

func TestHorizontalAntipodalIsFinite(t *testing.T) {
	a := Point{LatitudeDeg: 0, LongitudeDeg: 0}
	b := Point{LatitudeDeg: 0, LongitudeDeg: 180}
	d, err := Horizontal(a, b)
	if err != nil {
		t.Fatalf("horizontal: %v", err)
	}
	if math.IsNaN(d) || math.IsInf(d, 0) {
		t.Fatalf("antipodal distance not finite: %v", d)
	}
	want := EarthRadiusM * math.Pi
	if math.Abs(d-want) > 1 {
		t.Fatalf("antipodal distance: got %v want %v", d, want)
	}
}

func TestVertical(t *testing.T) {
	a := Point{AltitudeM: 120.5}
	b := Point{AltitudeM: 118.0}
	d, err := Vertical(a, b)
	if err != nil {
		t.Fatalf("vertical: %v", err)
	}
	if math.Abs(d-2.5) > 1e-9 {
		t.Fatalf("vertical: got %v want 2.5", d)
	}
	flipped, err := Vertical(b, a)
	if err != nil {
		t.Fatalf("vertical: %v", err)
	}
	if flipped != d {
		t.Fatalf("vertical asymmetric: %v vs %v", flipped, d)
	}
}

func TestInvalidCoordinates(t *testing.T) {
	valid := Point{LatitudeDeg: 10, LongitudeDeg: 10}
	cases := []Point{
		{LatitudeDeg: 91, LongitudeDeg: 0},
		{LatitudeDeg: -90.001, LongitudeDeg: 0},
		{LatitudeDeg: 0, LongitudeDeg: 180.5},
		{LatitudeDeg: 0, LongitudeDeg: -181},
		{LatitudeDeg: math.NaN(), LongitudeDeg: 0},
		{LatitudeDeg: 0, LongitudeDeg: 0, AltitudeM: math.Inf(1)},
		{LatitudeDeg: 0, LongitudeDeg: 0, AltitudeM: math.NaN()},
	}
	for _, bad := range cases {
		if _, err := Horizontal(valid, bad); !errors.Is(err, ErrInvalidCoordinate) {
			t.Fatalf("horizontal(%+v): expected ErrInvalidCoordinate, got %v", bad, err)
		}
		if _, err := Vertical(bad, valid); !errors.Is(err, ErrInvalidCoordinate) {
			t.Fatalf("vertical(%+v): expected ErrInvalidCoordinate, got %v", bad, err)
		}
	}
}
