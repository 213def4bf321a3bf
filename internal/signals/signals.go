// Package signals wraps the external weather and traffic providers
// behind narrow, independently cached interfaces (C4 Signal
// Providers).
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"shiptrack/internal/domain"
	"shiptrack/pkg/apperror"
	"shiptrack/pkg/cache"
)

// SampleStatus distinguishes a fresh reading from a stale or missing one.
type SampleStatus string

const (
	StatusFresh       SampleStatus = "fresh"
	StatusStale       SampleStatus = "stale"
	StatusUnavailable SampleStatus = "unavailable"
)

// bucketDegrees coarsens a coordinate so nearby positions share a cache
// bucket instead of missing the cache on every sub-meter jitter.
const bucketDegrees = 0.01 // ~1.1km at the equator

func bucketKey(prefix string, point domain.Coordinate, at time.Time, bucket time.Duration) string {
	latBucket := math.Round(point.Lat/bucketDegrees) * bucketDegrees
	lonBucket := math.Round(point.Lon/bucketDegrees) * bucketDegrees
	timeBucket := at.Truncate(bucket).Unix()
	return fmt.Sprintf("%s:%.4f:%.4f:%d", prefix, latBucket, lonBucket, timeBucket)
}

// TrafficProvider is the upstream traffic-conditions backend.
type TrafficProvider interface {
	Sample(ctx context.Context, point domain.Coordinate, at time.Time) (domain.TrafficSample, error)
}

// WeatherProvider is the upstream weather backend.
type WeatherProvider interface {
	Sample(ctx context.Context, point domain.Coordinate, at time.Time) (domain.WeatherSample, error)
}

// TrafficSource serves cached traffic samples, falling back to the
// upstream provider on a cache miss.
type TrafficSource struct {
	provider TrafficProvider
	store    cache.Cache
	ttl      time.Duration
	bucket   time.Duration
}

// NewTrafficSource builds a traffic sample source with a 2 minute
// sample-time bucket and the given cache TTL (default 2 minutes).
func NewTrafficSource(provider TrafficProvider, store cache.Cache, ttl time.Duration) *TrafficSource {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &TrafficSource{provider: provider, store: store, ttl: ttl, bucket: 2 * time.Minute}
}

// Sample returns the best available traffic sample near point at the
// given time. It never returns an error for a cold cache; a provider
// failure only surfaces once the cache has nothing to offer.
func (s *TrafficSource) Sample(ctx context.Context, point domain.Coordinate, at time.Time) (domain.TrafficSample, SampleStatus, error) {
	key := bucketKey("traffic", point, at, s.bucket)

	if data, err := s.store.Get(ctx, key); err == nil {
		var sample domain.TrafficSample
		if jsonErr := json.Unmarshal(data, &sample); jsonErr == nil {
			return sample, StatusFresh, nil
		}
	}

	sample, err := s.provider.Sample(ctx, point, at)
	if err != nil {
		return domain.TrafficSample{}, StatusUnavailable, apperror.New(apperror.CodeSignalUnavailable, "traffic signal unavailable").WithCause(err)
	}

	if data, err := json.Marshal(sample); err == nil {
		_ = s.store.Set(ctx, key, data, s.ttl)
	}
	return sample, StatusFresh, nil
}

// WeatherSource serves cached weather samples, falling back to the
// upstream provider on a cache miss.
type WeatherSource struct {
	provider WeatherProvider
	store    cache.Cache
	ttl      time.Duration
	bucket   time.Duration
}

// NewWeatherSource builds a weather sample source with a 10 minute
// sample-time bucket and the given cache TTL (default 10 minutes).
func NewWeatherSource(provider WeatherProvider, store cache.Cache, ttl time.Duration) *WeatherSource {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &WeatherSource{provider: provider, store: store, ttl: ttl, bucket: 10 * time.Minute}
}

// Sample returns the best available weather sample near point at the
// given time.
func (s *WeatherSource) Sample(ctx context.Context, point domain.Coordinate, at time.Time) (domain.WeatherSample, SampleStatus, error) {
	key := bucketKey("weather", point, at, s.bucket)

	if data, err := s.store.Get(ctx, key); err == nil {
		var sample domain.WeatherSample
		if jsonErr := json.Unmarshal(data, &sample); jsonErr == nil {
			return sample, StatusFresh, nil
		}
	}

	sample, err := s.provider.Sample(ctx, point, at)
	if err != nil {
		return domain.WeatherSample{}, StatusUnavailable, apperror.New(apperror.CodeSignalUnavailable, "weather signal unavailable").WithCause(err)
	}

	if data, err := json.Marshal(sample); err == nil {
		_ = s.store.Set(ctx, key, data, s.ttl)
	}
	return sample, StatusFresh, nil
}
