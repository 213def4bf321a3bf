package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Waypoint is a single coordinate in a routing request, ordered as given
// by the caller (waypoint order is significant and not sorted away).
type Waypoint struct {
	Lat float64
	Lon float64
}

// WaypointsHash computes a deterministic cache key fragment for an
// ordered list of waypoints.
func WaypointsHash(waypoints []Waypoint) string {
	if len(waypoints) == 0 {
		return ""
	}

	data := waypointsToCanonical(waypoints)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

// waypointsToCanonical builds a deterministic byte representation of an
// ordered waypoint list. Order matters here, unlike a graph hash, since
// a route from A to B is not the same request as B to A.
func waypointsToCanonical(waypoints []Waypoint) []byte {
	var result []byte
	for _, wp := range waypoints {
		result = append(result, []byte(fmt.Sprintf("w:%.6f:%.6f;", wp.Lat, wp.Lon))...)
	}
	return result
}

// BuildRouteKey builds a cache key for a routing result.
func BuildRouteKey(waypointsHash, profile string) string {
	return fmt.Sprintf("route:%s:%s", profile, waypointsHash)
}

// BuildRouteKeyWithOptions builds a route cache key including an options hash.
func BuildRouteKeyWithOptions(waypointsHash, profile, optionsHash string) string {
	if optionsHash == "" {
		return BuildRouteKey(waypointsHash, profile)
	}
	return fmt.Sprintf("route:%s:%s:%s", profile, waypointsHash, optionsHash)
}

// QuickHash is a generic sha256 hash for arbitrary data.
func QuickHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ShortHash is a truncated (16 character) sha256 hash for arbitrary data.
func ShortHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}
