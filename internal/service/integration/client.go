package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ClientConfig configures one outbound provider.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
	// RateLimit is requests per second; zero disables throttling.
	RateLimit float64
	Burst     int
}

// providerClient posts JSON to a provider with retries and a token-bucket limiter.
// Failures come back wrapped in models.ErrTimeout or models.ErrProviderUnavailable.
type providerClient struct {
	name       string
	baseURL    string
	apiKey     string
	retryCount int
	retryDelay time.Duration
	limiter    *rate.Limiter
	client     *http.Client
	logger     zerolog.Logger
}

func newProviderClient(name string, cfg ClientConfig, logger zerolog.Logger) *providerClient {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &providerClient{
		name:       name,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		limiter:    limiter,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With().Str("provider", name).Logger(),
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (c *providerClient) postJSON(ctx context.Context, path string, in, out interface{}) error {
	url := c.baseURL + path

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for i := 0; i <= c.retryCount; i++ {
		if i > 0 {
			c.logger.Warn().Int("attempt", i).Str("path", path).Msg("Retrying provider request")
			if err := sleep(ctx, c.retryDelay*time.Duration(i)); err != nil {
				return c.classify(err)
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return c.classify(err)
		}

		err := c.do(ctx, url, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) || ctx.Err() != nil {
			break
		}
	}

	return c.classify(fmt.Errorf("%s request failed after retries: %w", c.name, lastErr))
}

func (c *providerClient) do(ctx context.Context, url string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &permanentError{err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("%s returned status %d: %s", c.name, resp.StatusCode, string(respBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return &permanentError{err: err}
	}
	return err
}

// classify maps transport errors onto the degradation taxonomy.
func (c *providerClient) classify(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %v", models.ErrTimeout, c.name, err)
	}
	return fmt.Errorf("%w: %s: %v", models.ErrProviderUnavailable, c.name, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
