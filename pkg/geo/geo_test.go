package geo

import (
	"math"
	"testing"
)

func TestHaversineKnownDistance(t *testing.T) {
	// Lagos (Ikeja) to Lagos Island, roughly 16.9 km apart.
	from := Point{Lat: 6.6018, Lng: 3.3515}
	to := Point{Lat: 6.4541, Lng: 3.3947}

	meters, err := Haversine(from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meters < 16000 || meters > 18000 {
		t.Fatalf("expected ~17km, got %.0fm", meters)
	}
}

func TestHaversineZeroAndSymmetry(t *testing.T) {
	p := Point{Lat: 40.7128, Lng: -74.0060}
	q := Point{Lat: 34.0522, Lng: -118.2437}

	same, err := Haversine(p, p)
	if err != nil || same != 0 {
		t.Fatalf("expected zero distance, got %v err=%v", same, err)
	}

	pq, _ := Haversine(p, q)
	qp, _ := Haversine(q, p)
	if math.Abs(pq-qp) > 1e-6 {
		t.Fatalf("distance not symmetric: %v vs %v", pq, qp)
	}
}

func TestHaversineRejectsInvalidCoordinates(t *testing.T) {
	if _, err := Haversine(Point{Lat: 91}, Point{}); err == nil {
		t.Fatalf("expected latitude error")
	}
	if _, err := Haversine(Point{}, Point{Lng: -181}); err == nil {
		t.Fatalf("expected longitude error")
	}
	if _, err := Haversine(Point{Lat: math.NaN()}, Point{}); err == nil {
		t.Fatalf("expected NaN error")
	}
}

func TestNewPointRequiresBothCoordinates(t *testing.T) {
	lat := 1.0
	if NewPoint(&lat, nil) != nil {
		t.Fatalf("expected nil point when longitude missing")
	}
	if p := NewPoint(&lat, &lat); p == nil || p.Lat != 1 || p.Lng != 1 {
		t.Fatalf("unexpected point %+v", p)
	}
}
