package snapper

import (
	"math"

	"shiptrack/internal/domain"
)

const earthRadiusM = 6371000.0

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

// haversineMeters returns the great-circle distance between two
// coordinates in meters.
func haversineMeters(a, b domain.Coordinate) float64 {
	lat1, lat2 := toRadians(a.Lat), toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// planarMeters projects a and b onto a local equirectangular plane
// centered on a, in meters. Accurate for the segment lengths a route
// polyline is built from (tens of meters to a few kilometers).
func planarMeters(origin, p domain.Coordinate) (x, y float64) {
	latRad := toRadians(origin.Lat)
	x = toRadians(p.Lon-origin.Lon) * earthRadiusM * math.Cos(latRad)
	y = toRadians(p.Lat-origin.Lat) * earthRadiusM
	return x, y
}

// projection is the result of projecting a point onto a segment.
type projection struct {
	crossTrackM float64 // perpendicular distance to the segment
	t           float64 // fractional position along the segment, clamped to [0,1]
}

// projectToSegment projects p onto the segment [a,b] in a local planar
// frame and returns the perpendicular distance and clamped fraction.
func projectToSegment(a, b, p domain.Coordinate) projection {
	ax, ay := 0.0, 0.0 // a is the local origin
	bx, by := planarMeters(a, b)
	px, py := planarMeters(a, p)

	abx, aby := bx-ax, by-ay
	segLenSq := abx*abx + aby*aby

	var t float64
	if segLenSq > 0 {
		t = ((px-ax)*abx + (py-ay)*aby) / segLenSq
	}
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}

	closestX := ax + t*abx
	closestY := ay + t*aby
	dx, dy := px-closestX, py-closestY
	dist := math.Hypot(dx, dy)

	return projection{crossTrackM: dist, t: t}
}

// polylineLengthM returns the cumulative length of a route polyline.
func polylineLengthM(points []domain.Coordinate) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += haversineMeters(points[i-1], points[i])
	}
	return total
}

// ProjectOntoPolyline finds the closest point on polyline to point and
// returns its fractional progress (0..1) and perpendicular cross-track
// distance in meters. Shared by the Road Snapper and the ETA Estimator
// so both place stops and fixes on the same polyline parameterization.
func ProjectOntoPolyline(polyline []domain.Coordinate, point domain.Coordinate) (progress, crossTrackM float64) {
	if len(polyline) < 2 {
		return 0, math.MaxFloat64
	}

	totalLen := polylineLengthM(polyline)
	if totalLen <= 0 {
		return 0, math.MaxFloat64
	}

	best := projection{crossTrackM: math.MaxFloat64}
	bestCumulative := 0.0
	cumulative := 0.0
	for i := 1; i < len(polyline); i++ {
		a, b := polyline[i-1], polyline[i]
		segLen := haversineMeters(a, b)

		proj := projectToSegment(a, b, point)
		if proj.crossTrackM < best.crossTrackM {
			best = proj
			bestCumulative = cumulative + proj.t*segLen
		}
		cumulative += segLen
	}

	return bestCumulative / totalLen, best.crossTrackM
}
