package platform

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient posts JSON with bounded retries on transport errors and 5xx.
type HTTPClient struct {
	Client  *http.Client
	Retries int
	Timeout time.Duration
	Backoff time.Duration
	Logger  zerolog.Logger
}

func NewHTTPClient(retries int, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		Client: &http.Client{
			Timeout: timeout,
		},
		Retries: retries,
		Timeout: timeout,
		Backoff: 200 * time.Millisecond,
		Logger:  zerolog.Nop(),
	}
}

// WithLogger sets the logger used for retry warnings
func (c *HTTPClient) WithLogger(logger zerolog.Logger) *HTTPClient {
	c.Logger = logger
	return c
}

// PostJSON sends body to url. The caller closes the response body.
// A 5xx response is returned as-is once retries are exhausted.
func (c *HTTPClient) PostJSON(ctx context.Context, url string, body []byte, headers map[string]string) (*http.Response, error) {
	var resp *http.Response
	var err error

	for i := 0; i <= c.Retries; i++ {
		req, rErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if rErr != nil {
			return nil, rErr
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err = c.Client.Do(req)
		if err == nil && resp.StatusCode < 500 {
			// 4xx are not retried
			return resp, nil
		}

		if i < c.Retries {
			status := 0
			if resp != nil {
				status = resp.StatusCode
				resp.Body.Close()
			}
			c.Logger.Warn().Err(err).Str("url", url).Int("attempt", i+1).Int("status", status).Msg("HTTP request failed, retrying")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<i) * c.Backoff):
			}
		}
	}

	if err != nil {
		return nil, fmt.Errorf("request failed after %d retries: %w", c.Retries, err)
	}
	return resp, nil
}
