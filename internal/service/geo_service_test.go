package service

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	s := NewGeoService()

	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64 // meters
		tolerance              float64
	}{
		{"same point", -8.65, 115.21, -8.65, 115.21, 0, 0.001},
		// ~111.19km per degree of latitude at the equator.
		{"one degree latitude", 0, 0, 1, 0, 111195, 50},
		// Jakarta (Monas) to Bandung (Gedung Sate), roughly 116km.
		{"jakarta to bandung", -6.1754, 106.8272, -6.9025, 107.6187, 116000, 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("Distance = %.1fm, want %.1fm (+-%.1f)", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestDistanceSymmetry(t *testing.T) {
	s := NewGeoService()

	ab := s.Distance(-6.1754, 106.8272, -6.9025, 107.6187)
	ba := s.Distance(-6.9025, 107.6187, -6.1754, 106.8272)
	if ab != ba {
		t.Errorf("Distance(a,b) = %.6f, Distance(b,a) = %.6f, must be equal", ab, ba)
	}
}

func TestIsWithinRadius(t *testing.T) {
	s := NewGeoService()

	if !s.IsWithinRadius(50, 50) {
		t.Error("boundary must be inclusive: 50m inside a 50m radius")
	}
	if !s.IsWithinRadius(0, 50) {
		t.Error("center must be inside")
	}
	if s.IsWithinRadius(50.01, 50) {
		t.Error("just past the boundary must be outside")
	}
}

func TestDetectFakeGPS(t *testing.T) {
	s := NewGeoService()

	tests := []struct {
		name      string
		userAgent string
		accuracy  float64
		wantFake  bool
	}{
		{"normal phone", "Mozilla/5.0 (Linux; Android 14; Pixel 8)", 12.5, false},
		{"zero accuracy", "Mozilla/5.0 (Linux; Android 14; Pixel 8)", 0, true},
		{"sub-meter accuracy", "Mozilla/5.0 (Linux; Android 14; Pixel 8)", 0.4, true},
		{"one meter accuracy is plausible", "Mozilla/5.0 (Linux; Android 14; Pixel 8)", 1.0, false},
		{"coarse accuracy", "Mozilla/5.0 (Linux; Android 14; Pixel 8)", 1500, true},
		{"emulator ua", "Mozilla/5.0 (Linux; Android 12; sdk_gphone64_x86_64)", 15, true},
		{"headless browser", "Mozilla/5.0 HeadlessChrome/120.0", 15, true},
		{"emulator marker is case-insensitive", "Android SDK built for x86", 15, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, reasons := s.DetectFakeGPS(tt.userAgent, tt.accuracy)
			if fake != tt.wantFake {
				t.Errorf("fake = %v (reasons %v), want %v", fake, reasons, tt.wantFake)
			}
			if fake && len(reasons) == 0 {
				t.Error("a fake verdict must carry at least one reason")
			}
		})
	}
}

func TestDetectFakeGPSCombinesReasons(t *testing.T) {
	s := NewGeoService()
	fake, reasons := s.DetectFakeGPS("Genymotion emulator build", 0)
	if !fake {
		t.Fatal("expected fake verdict")
	}
	if len(reasons) != 2 {
		t.Errorf("expected 2 reasons (ua + accuracy), got %v", reasons)
	}
}

func TestEvaluate(t *testing.T) {
	s := NewGeoService()
	ua := "Mozilla/5.0 (Linux; Android 14; Pixel 8)"

	// ~111m north of center.
	res := s.Evaluate(-8.6490, 115.2100, 10, ua, -8.6500, 115.2100, 150)
	if !res.WithinRadius {
		t.Errorf("expected within 150m radius, distance was %.1fm", res.DistanceMeters)
	}
	if res.IsFakeGPS {
		t.Errorf("unexpected fake verdict: %v", res.Reasons)
	}

	// Same position against a 50m geofence.
	res = s.Evaluate(-8.6490, 115.2100, 10, ua, -8.6500, 115.2100, 50)
	if res.WithinRadius {
		t.Errorf("expected outside 50m radius, distance was %.1fm", res.DistanceMeters)
	}
}
