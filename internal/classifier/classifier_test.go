package classifier

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"shiptrack/internal/domain"
	"shiptrack/pkg/config"
)

func testConfig() config.ClassifierConfig {
	return config.ClassifierConfig{
		MinScore:                  0.4,
		LatenessThresholdMin:      10,
		LookaheadMin:              15,
		CongestionSpeedFactorMax:  0.6,
		WeatherPrecipThresholdMMH: 2.5,
		HOSCeiling:                11 * time.Hour,
		HOSWarningWindow:          time.Hour,
		VehicleIssueLookback:      30 * time.Minute,
		OffRouteRejectionStreak:   3,
	}
}

func TestClassifier_OnTimeWhenNoCauseAndWithinWindow(t *testing.T) {
	c := New(testConfig())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	in := Inputs{
		Now:             now,
		PromisedArrival: now.Add(30 * time.Minute),
		ETAs:            []domain.ETASample{{EstimatedArrival: now.Add(25 * time.Minute)}},
	}
	adv := c.Classify(uuid.New(), in)
	if adv.Reason != domain.ReasonOnTime {
		t.Errorf("expected ON_TIME, got %s", adv.Reason)
	}
}

func TestClassifier_UnknownDelayWhenLateWithNoMatchingCause(t *testing.T) {
	c := New(testConfig())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	in := Inputs{
		Now:             now,
		PromisedArrival: now,
		ETAs:            []domain.ETASample{{EstimatedArrival: now.Add(20 * time.Minute)}},
	}
	adv := c.Classify(uuid.New(), in)
	if adv.Reason != domain.ReasonUnknownDelay {
		t.Errorf("expected UNKNOWN_DELAY, got %s", adv.Reason)
	}
}

func TestClassifier_TrafficCongestionAboveThreshold(t *testing.T) {
	c := New(testConfig())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	in := Inputs{
		Now:             now,
		PromisedArrival: now,
		ETAs:            []domain.ETASample{{EstimatedArrival: now.Add(20 * time.Minute)}},
		Traffic: []domain.TrafficSample{
			{Timestamp: now, FreeFlowKPH: 100, CongestionRatio: 0.2},
		},
	}
	adv := c.Classify(uuid.New(), in)
	if adv.Reason != domain.ReasonTrafficCongestion {
		t.Errorf("expected TRAFFIC_CONGESTION, got %s", adv.Reason)
	}
}

func TestClassifier_RoadIncidentOutscoresTrafficCongestion(t *testing.T) {
	c := New(testConfig())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	in := Inputs{
		Now:             now,
		PromisedArrival: now,
		ETAs:            []domain.ETASample{{EstimatedArrival: now.Add(20 * time.Minute)}},
		Traffic: []domain.TrafficSample{
			{Timestamp: now, FreeFlowKPH: 100, CongestionRatio: 0.2, IncidentNearby: true},
		},
	}
	adv := c.Classify(uuid.New(), in)
	if adv.Reason != domain.ReasonRoadIncident {
		t.Errorf("expected ROAD_INCIDENT to win priority over TRAFFIC_CONGESTION, got %s", adv.Reason)
	}
}

func TestClassifier_VehicleIssueOutranksWeather(t *testing.T) {
	c := New(testConfig())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	in := Inputs{
		Now:             now,
		PromisedArrival: now,
		ETAs:            []domain.ETASample{{EstimatedArrival: now.Add(20 * time.Minute)}},
		Weather:         &domain.WeatherSample{Severe: true},
		ManualEvents:    []ManualEvent{{ReportedAt: now.Add(-5 * time.Minute)}},
	}
	adv := c.Classify(uuid.New(), in)
	if adv.Reason != domain.ReasonVehicleIssue {
		t.Errorf("expected VEHICLE_ISSUE to outrank WEATHER_DELAY, got %s", adv.Reason)
	}
}

func TestClassifier_DriverHOSRiskNearCeiling(t *testing.T) {
	c := New(testConfig())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	in := Inputs{
		Now:             now,
		PromisedArrival: now,
		ETAs:            []domain.ETASample{{EstimatedArrival: now.Add(20 * time.Minute)}},
		Shift:           &ShiftInfo{ShiftStart: now.Add(-10*time.Hour - 30*time.Minute)},
	}
	adv := c.Classify(uuid.New(), in)
	if adv.Reason != domain.ReasonDriverHOSRisk {
		t.Errorf("expected DRIVER_HOS_RISK as shift approaches the ceiling, got %s", adv.Reason)
	}
}

func TestClassifier_OffRouteAfterRejectionStreak(t *testing.T) {
	c := New(testConfig())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	in := Inputs{
		Now:              now,
		PromisedArrival:  now,
		ETAs:             []domain.ETASample{{EstimatedArrival: now.Add(20 * time.Minute)}},
		SnapRejectStreak: 5,
	}
	adv := c.Classify(uuid.New(), in)
	if adv.Reason != domain.ReasonOffRoute {
		t.Errorf("expected OFF_ROUTE after a sustained rejection streak, got %s", adv.Reason)
	}
}

func TestClassifier_BelowMinScoreFallsBackToUnknownOrOnTime(t *testing.T) {
	c := New(testConfig())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	in := Inputs{
		Now:             now,
		PromisedArrival: now,
		ETAs:            []domain.ETASample{{EstimatedArrival: now.Add(20 * time.Minute)}},
		Traffic: []domain.TrafficSample{
			{Timestamp: now, FreeFlowKPH: 100, CongestionRatio: 0.55},
		},
	}
	adv := c.Classify(uuid.New(), in)
	if adv.Reason != domain.ReasonUnknownDelay {
		t.Errorf("expected a below-threshold congestion score to fall back to UNKNOWN_DELAY, got %s", adv.Reason)
	}
}
