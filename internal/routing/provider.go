package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"shiptrack/internal/domain"
	"shiptrack/pkg/apperror"
	"shiptrack/pkg/config"
)

// HTTPProvider calls an external route-planning service (e.g. a
// Valhalla/OSRM-compatible routing engine) over HTTP.
type HTTPProvider struct {
	name   string
	client *http.Client
	cfg    config.ServiceEndpoint
}

// NewHTTPProvider builds a provider against a configured service
// endpoint, instrumenting outbound calls with otelhttp the same way
// pkg/telemetry instruments the inbound HTTP surface.
func NewHTTPProvider(name string, cfg config.ServiceEndpoint) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPProvider{
		name: name,
		cfg:  cfg,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) scheme() string {
	if p.cfg.TLS {
		return "https"
	}
	return "http"
}

type routeRequest struct {
	Waypoints []domain.Coordinate  `json:"waypoints"`
	Profile   domain.CostingProfile `json:"profile"`
	Count     int                  `json:"count,omitempty"`
}

type routeResponse struct {
	Routes []struct {
		Polyline  []domain.Coordinate   `json:"polyline"`
		DistanceM float64               `json:"distance_m"`
		DurationS float64               `json:"duration_s"`
		Segments  []domain.RouteSegment `json:"segments"`
	} `json:"routes"`
}

func (p *HTTPProvider) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperror.New(apperror.CodeInternal, "failed to encode routing request").WithCause(err)
	}

	url := fmt.Sprintf("%s://%s%s", p.scheme(), p.cfg.Address(), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperror.New(apperror.CodeInternal, "failed to build routing request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return apperror.New(apperror.CodeRoutingUnavailable, "routing provider request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apperror.New(apperror.CodeRoutingUnavailable, fmt.Sprintf("routing provider returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return apperror.New(apperror.CodeInvalidInput, fmt.Sprintf("routing provider rejected request: %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.New(apperror.CodeRoutingUnavailable, "malformed routing provider response").WithCause(err)
	}
	return nil
}

func (p *HTTPProvider) Route(ctx context.Context, waypoints []domain.Coordinate, profile domain.CostingProfile) (*domain.Route, error) {
	var resp routeResponse
	if err := p.post(ctx, "/route", routeRequest{Waypoints: waypoints, Profile: profile}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Routes) == 0 {
		return nil, apperror.New(apperror.CodeRoutingUnavailable, "routing provider returned no route")
	}
	r := resp.Routes[0]
	return &domain.Route{
		Polyline:  r.Polyline,
		DistanceM: r.DistanceM,
		DurationS: r.DurationS,
		Segments:  r.Segments,
		Profile:   profile,
		CreatedAt: time.Now(),
	}, nil
}

func (p *HTTPProvider) Alternatives(ctx context.Context, waypoints []domain.Coordinate, profile domain.CostingProfile, k int) ([]*domain.Route, error) {
	var resp routeResponse
	if err := p.post(ctx, "/route/alternatives", routeRequest{Waypoints: waypoints, Profile: profile, Count: k}, &resp); err != nil {
		return nil, err
	}
	routes := make([]*domain.Route, 0, len(resp.Routes))
	for _, r := range resp.Routes {
		routes = append(routes, &domain.Route{
			Polyline:  r.Polyline,
			DistanceM: r.DistanceM,
			DurationS: r.DurationS,
			Segments:  r.Segments,
			Profile:   profile,
			CreatedAt: time.Now(),
		})
	}
	return routes, nil
}

type snapRequest struct {
	Point domain.Coordinate `json:"point"`
}

type snapResponse struct {
	Point domain.Coordinate `json:"point"`
}

func (p *HTTPProvider) Snap(ctx context.Context, point domain.Coordinate) (domain.Coordinate, error) {
	var resp snapResponse
	if err := p.post(ctx, "/snap", snapRequest{Point: point}, &resp); err != nil {
		return domain.Coordinate{}, err
	}
	return resp.Point, nil
}
