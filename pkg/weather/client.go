package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/horchlabs/horch/pkg/errorsx"
	"github.com/horchlabs/horch/pkg/logging"
	"github.com/horchlabs/horch/pkg/resilience"
)

const DefaultLocation = "heilbronn"

// Report is the backend's weather payload, kept opaque.
type Report struct {
	Location string
	Raw      json.RawMessage
}

type ClientConfig struct {
	APIURL     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// Client fetches weather data from the backend API. The backend expects the
// location appended to the base URL.
type Client struct {
	apiURL  string
	http    *http.Client
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:8080/api/weather/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		apiURL:  cfg.APIURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		retry:   resilience.NewRetryPolicy(cfg.MaxRetries, cfg.Backoff),
		breaker: resilience.NewCircuitBreaker(3, 30*time.Second),
		logger:  logging.NewComponentLogger(slog.Default(), "weather_client"),
	}
}

// Fetch requests the weather for location, falling back to the default
// location when none was extracted.
func (c *Client) Fetch(ctx context.Context, location string) (*Report, error) {
	if strings.TrimSpace(location) == "" {
		location = DefaultLocation
	}
	target := c.apiURL + url.PathEscape(location)

	if !c.breaker.Allow() {
		return nil, errorsx.Wrap(fmt.Errorf("weather backend circuit open"), errorsx.ReasonWeatherFetch)
	}

	var report *Report
	err := c.retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return resilience.RateLimitError{Provider: "weather_backend"}
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			c.logger.Warn("backend_error",
				slog.Int("status", resp.StatusCode),
				slog.String("body", string(body)))
			return errorsx.Wrap(fmt.Errorf("backend status %d", resp.StatusCode), errorsx.ReasonWeatherStatus)
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		report = &Report{Location: location, Raw: raw}
		return nil
	})
	if err != nil {
		c.breaker.OnError(err)
		return nil, errorsx.Wrap(err, errorsx.ReasonWeatherFetch)
	}
	c.breaker.OnSuccess()
	return report, nil
}
