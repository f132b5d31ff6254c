package geo

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// EarthRadiusMeters is the mean earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000

var (
	ErrInvalidGeometry   = errors.New("invalid geometry")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// Point is a bare latitude/longitude pair in degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p Point) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Latitude, p.Longitude)
}

// Coordinate is a reported location sample. It is a value type; copy it freely.
type Coordinate struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"` // meters
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (c Coordinate) Point() Point {
	return Point{Latitude: c.Latitude, Longitude: c.Longitude}
}

// AccuracyMeters returns the reported accuracy, or -1 when it is missing.
func (c Coordinate) AccuracyMeters() float64 {
	if c.Accuracy == nil {
		return -1
	}
	return *c.Accuracy
}

// Validate checks ranges. A location sample must carry a non-negative accuracy.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, c.Longitude)
	}
	if c.Accuracy == nil {
		return fmt.Errorf("%w: accuracy is required", ErrInvalidCoordinate)
	}
	if *c.Accuracy < 0 || math.IsNaN(*c.Accuracy) {
		return fmt.Errorf("%w: accuracy must not be negative", ErrInvalidCoordinate)
	}
	return nil
}

// Polygon is an ordered vertex ring. The closing edge is implicit.
type Polygon []Point

func (p Polygon) Validate() error {
	if len(p) < 3 {
		return fmt.Errorf("%w: polygon needs at least 3 vertices, got %d", ErrInvalidGeometry, len(p))
	}
	for i, v := range p {
		if !v.Valid() {
			return fmt.Errorf("%w: vertex %d out of range", ErrInvalidGeometry, i)
		}
	}
	return nil
}

// HaversineDistanceMeters returns the great-circle distance between two points in meters.
func HaversineDistanceMeters(a, b Point) float64 {
	dLat := (b.Latitude - a.Latitude) * (math.Pi / 180.0)
	dLon := (b.Longitude - a.Longitude) * (math.Pi / 180.0)

	lat1Rad := a.Latitude * (math.Pi / 180.0)
	lat2Rad := b.Latitude * (math.Pi / 180.0)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1Rad)*math.Cos(lat2Rad)

	// rounding can push h just past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

func IsInsideCircle(point, center Point, radiusMeters float64) bool {
	return HaversineDistanceMeters(point, center) <= radiusMeters
}

// IsInsidePolygon runs an even-odd ray cast over the ring. The result does
// not depend on vertex orientation.
func IsInsidePolygon(point Point, polygon Polygon) (bool, error) {
	if len(polygon) < 3 {
		return false, fmt.Errorf("%w: polygon needs at least 3 vertices, got %d", ErrInvalidGeometry, len(polygon))
	}

	x, y := point.Longitude, point.Latitude
	inside := false
	for i, j := 0, len(polygon)-1; i < len(polygon); j, i = i, i+1 {
		xi, yi := polygon[i].Longitude, polygon[i].Latitude
		xj, yj := polygon[j].Longitude, polygon[j].Latitude

		if (yi > y) == (yj > y) {
			continue
		}
		// order the edge endpoints so both orientations compute the same crossing
		if yi > yj {
			xi, yi, xj, yj = xj, yj, xi, yi
		}
		crossX := xi + (y-yi)*(xj-xi)/(yj-yi)
		if x < crossX {
			inside = !inside
		}
	}
	return inside, nil
}

// Centroid is the vertex average, good enough for labelling small fences.
func Centroid(polygon Polygon) Point {
	if len(polygon) == 0 {
		return Point{}
	}
	var lat, lng float64
	for _, p := range polygon {
		lat += p.Latitude
		lng += p.Longitude
	}
	n := float64(len(polygon))
	return Point{Latitude: lat / n, Longitude: lng / n}
}
