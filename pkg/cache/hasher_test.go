package cache

import (
	"testing"
)

func TestWaypointsHash(t *testing.T) {
	t.Run("empty waypoints", func(t *testing.T) {
		hash := WaypointsHash(nil)
		if hash != "" {
			t.Errorf("WaypointsHash(nil) = %v, want empty string", hash)
		}
	})

	t.Run("same waypoints produce same hash", func(t *testing.T) {
		wps := []Waypoint{
			{Lat: 37.7749, Lon: -122.4194},
			{Lat: 37.3382, Lon: -121.8863},
		}

		hash1 := WaypointsHash(wps)
		hash2 := WaypointsHash(wps)

		if hash1 != hash2 {
			t.Errorf("same waypoints should produce same hash: %v != %v", hash1, hash2)
		}
	})

	t.Run("different waypoints produce different hashes", func(t *testing.T) {
		wps1 := []Waypoint{{Lat: 37.7749, Lon: -122.4194}, {Lat: 37.3382, Lon: -121.8863}}
		wps2 := []Waypoint{{Lat: 37.7749, Lon: -122.4194}, {Lat: 34.0522, Lon: -118.2437}}

		hash1 := WaypointsHash(wps1)
		hash2 := WaypointsHash(wps2)

		if hash1 == hash2 {
			t.Error("different waypoints should produce different hashes")
		}
	})

	t.Run("waypoint order is significant", func(t *testing.T) {
		wps1 := []Waypoint{{Lat: 1, Lon: 2}, {Lat: 3, Lon: 4}}
		wps2 := []Waypoint{{Lat: 3, Lon: 4}, {Lat: 1, Lon: 2}}

		hash1 := WaypointsHash(wps1)
		hash2 := WaypointsHash(wps2)

		if hash1 == hash2 {
			t.Error("reversed waypoint order should produce a different hash")
		}
	})
}

func TestBuildRouteKey(t *testing.T) {
	key := BuildRouteKey("abc123", "truck")
	expected := "route:truck:abc123"
	if key != expected {
		t.Errorf("BuildRouteKey() = %v, want %v", key, expected)
	}
}

func TestBuildRouteKeyWithOptions(t *testing.T) {
	tests := []struct {
		name          string
		waypointsHash string
		profile       string
		optionsHash   string
		expected      string
	}{
		{
			name:          "without options",
			waypointsHash: "abc123",
			profile:       "truck",
			optionsHash:   "",
			expected:      "route:truck:abc123",
		},
		{
			name:          "with options",
			waypointsHash: "abc123",
			profile:       "truck",
			optionsHash:   "opt456",
			expected:      "route:truck:abc123:opt456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := BuildRouteKeyWithOptions(tt.waypointsHash, tt.profile, tt.optionsHash)
			if key != tt.expected {
				t.Errorf("BuildRouteKeyWithOptions() = %v, want %v", key, tt.expected)
			}
		})
	}
}

func TestQuickHash(t *testing.T) {
	data := []byte("test data")
	hash := QuickHash(data)

	if len(hash) != 64 { // SHA256 hex = 64 chars
		t.Errorf("QuickHash length = %d, want 64", len(hash))
	}

	hash2 := QuickHash(data)
	if hash != hash2 {
		t.Error("same data should produce same hash")
	}
}

func TestShortHash(t *testing.T) {
	data := []byte("test data")
	hash := ShortHash(data)

	if len(hash) != 16 {
		t.Errorf("ShortHash length = %d, want 16", len(hash))
	}
}
