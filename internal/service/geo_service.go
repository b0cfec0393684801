package service

import (
	"fmt"
	"math"
	"strings"
)

// Fake-GPS heuristics thresholds.
const (
	minPlausibleAccuracy = 1.0    // meters; finer than real hardware reports
	maxPlausibleAccuracy = 1000.0 // meters; coarser than any usable fix
)

const earthRadiusMeters = 6371000.0

// emulatorMarkers are user-agent substrings that indicate an emulated device.
var emulatorMarkers = []string{
	"emulator",
	"simulator",
	"sdk_gphone",
	"android sdk built for",
	"genymotion",
	"headlesschrome",
}

// GeoResult is the geolocation gate's outcome fed to the check-in pipeline.
type GeoResult struct {
	WithinRadius   bool     `json:"within_radius"`
	DistanceMeters float64  `json:"distance_m"`
	IsFakeGPS      bool     `json:"is_fake_gps"`
	Reasons        []string `json:"reasons,omitempty"`
}

// GeoService evaluates geofence distance and GPS spoofing signals.
type GeoService struct{}

// NewGeoService creates a new GeoService.
func NewGeoService() *GeoService {
	return &GeoService{}
}

// Distance returns the great-circle distance between two coordinates in
// meters, via the haversine formula.
func (s *GeoService) Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// IsWithinRadius reports whether the distance falls inside the geofence.
// The boundary is inclusive.
func (s *GeoService) IsWithinRadius(distance, radiusMeters float64) bool {
	return distance <= radiusMeters
}

// DetectFakeGPS flags spoofing signals from the user agent and the reported
// position accuracy. Each triggered condition appends a readable reason.
func (s *GeoService) DetectFakeGPS(userAgent string, accuracy float64) (bool, []string) {
	var reasons []string

	ua := strings.ToLower(userAgent)
	for _, marker := range emulatorMarkers {
		if strings.Contains(ua, marker) {
			reasons = append(reasons, fmt.Sprintf("user agent indicates an emulated device (%q)", marker))
			break
		}
	}

	switch {
	case accuracy == 0:
		reasons = append(reasons, "reported accuracy is exactly 0")
	case accuracy < minPlausibleAccuracy:
		reasons = append(reasons, fmt.Sprintf("reported accuracy %.2fm is implausibly fine", accuracy))
	case accuracy > maxPlausibleAccuracy:
		reasons = append(reasons, fmt.Sprintf("reported accuracy %.0fm is implausibly coarse", accuracy))
	}

	return len(reasons) > 0, reasons
}

// Evaluate runs the full geolocation gate against a lesson geofence.
func (s *GeoService) Evaluate(lat, lon, accuracy float64, userAgent string, centerLat, centerLon, radiusMeters float64) GeoResult {
	distance := s.Distance(lat, lon, centerLat, centerLon)
	isFake, reasons := s.DetectFakeGPS(userAgent, accuracy)

	return GeoResult{
		WithinRadius:   s.IsWithinRadius(distance, radiusMeters),
		DistanceMeters: distance,
		IsFakeGPS:      isFake,
		Reasons:        reasons,
	}
}
