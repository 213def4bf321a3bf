package signals

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

// DefaultTimeout bounds a signal provider call absent an explicit
// per-endpoint timeout (spec.md §5's 2 second signal provider budget).
const DefaultTimeout = 2 * time.Second

// httpProvider is the shared transport for the HTTP-backed traffic and
// weather providers, mirroring internal/routing.HTTPProvider's shape:
// both call a small external service over a JSON POST body.
type httpProvider struct {
	name   string
	client *http.Client
	cfg    config.ServiceEndpoint
}

func newHTTPProvider(name string, cfg config.ServiceEndpoint) httpProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return httpProvider{
		name: name,
		cfg:  cfg,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (p httpProvider) scheme() string {
	if p.cfg.TLS {
		return "https"
	}
	return "http"
}

func (p httpProvider) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperror.New(apperror.CodeInternal, "failed to encode "+p.name+" request").WithCause(err)
	}

	url := fmt.Sprintf("%s://%s%s", p.scheme(), p.cfg.Address(), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperror.New(apperror.CodeInternal, "failed to build "+p.name+" request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return apperror.New(apperror.CodeSignalUnavailable, p.name+" provider request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apperror.New(apperror.CodeSignalUnavailable, fmt.Sprintf("%s provider returned %d", p.name, resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.New(apperror.CodeSignalUnavailable, "malformed "+p.name+" provider response").WithCause(err)
	}
	return nil
}

type sampleRequest struct {
	Point domain.Coordinate `json:"point"`
	At    time.Time         `json:"at"`
}

// HTTPTrafficProvider calls an external traffic-conditions service.
type HTTPTrafficProvider struct {
	httpProvider
}

// NewHTTPTrafficProvider builds a TrafficProvider against a configured
// service endpoint.
func NewHTTPTrafficProvider(cfg config.ServiceEndpoint) *HTTPTrafficProvider {
	return &HTTPTrafficProvider{httpProvider: newHTTPProvider("traffic", cfg)}
}

func (p *HTTPTrafficProvider) Sample(ctx context.Context, point domain.Coordinate, at time.Time) (domain.TrafficSample, error) {
	var resp domain.TrafficSample
	if err := p.post(ctx, "/traffic", sampleRequest{Point: point, At: at}, &resp); err != nil {
		return domain.TrafficSample{}, err
	}
	resp.Coordinate = point
	resp.Timestamp = at
	resp.Source = "traffic-provider"
	return resp, nil
}

// HTTPWeatherProvider calls an external weather-conditions service.
type HTTPWeatherProvider struct {
	httpProvider
}

// NewHTTPWeatherProvider builds a WeatherProvider against a configured
// service endpoint.
func NewHTTPWeatherProvider(cfg config.ServiceEndpoint) *HTTPWeatherProvider {
	return &HTTPWeatherProvider{httpProvider: newHTTPProvider("weather", cfg)}
}

func (p *HTTPWeatherProvider) Sample(ctx context.Context, point domain.Coordinate, at time.Time) (domain.WeatherSample, error) {
	var resp domain.WeatherSample
	if err := p.post(ctx, "/weather", sampleRequest{Point: point, At: at}, &resp); err != nil {
		return domain.WeatherSample{}, err
	}
	resp.Coordinate = point
	resp.Timestamp = at
	resp.Source = "weather-provider"
	return resp, nil
}
