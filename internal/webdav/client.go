package webdav

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	neturl "net/url"
	"strconv"
	"strings"
	"time"
)

const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "ncsync/0.1"
)

// Credentials supplies Basic Auth credentials for every request. Defined at
// the consumer per "accept interfaces, return structs" — the config loader
// returns a concrete struct, not this interface.
type Credentials interface {
	BasicAuth() (username, password string)
}

// Client is an HTTP client for a Nextcloud-compatible WebDAV endpoint. It
// handles request construction, Basic Auth, retry with exponential backoff,
// and status-code classification.
type Client struct {
	baseURL    string // e.g. https://cloud.example.com/remote.php/dav/files/<user>
	basePath   string // baseURL's path component, stripped from PROPFIND hrefs
	httpClient *http.Client
	creds      Credentials
	logger     *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a WebDAV client rooted at baseURL.
func New(baseURL string, httpClient *http.Client, creds Credentials, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		basePath:   basePathOf(baseURL),
		httpClient: httpClient,
		creds:      creds,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// basePathOf extracts the URL path component from a base URL, for stripping
// the shared prefix off PROPFIND response hrefs. Falls back to "" (no
// stripping) if baseURL does not parse as a URL.
func basePathOf(baseURL string) string {
	u, err := neturl.Parse(baseURL)
	if err != nil {
		return ""
	}

	return strings.TrimSuffix(u.Path, "/")
}

// Do executes an authenticated request against path (relative to baseURL)
// with automatic retry on transient errors. The caller must close the
// response body on success. An HTTP error status yields an *Error wrapping a
// sentinel; a server that stays unreachable through every retry yields an
// error wrapping ErrOffline.
func (c *Client) Do(ctx context.Context, method, path string, body io.ReadSeeker, extraHeaders http.Header) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int
	for {
		if body != nil {
			if _, err := body.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("webdav: rewinding request body: %w", err)
			}
		}

		resp, err := c.doOnce(ctx, method, url, body, extraHeaders)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("webdav: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("webdav: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("%w: %s %s failed after %d retries: %w", ErrOffline, method, path, maxRetries, err)
		}

		const statusMultiStatus = 207
		if (resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices) || resp.StatusCode == statusMultiStatus {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("webdav: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, c.terminalError(method, path, resp.StatusCode, errBody, attempt)
	}
}

func (c *Client) doOnce(ctx context.Context, method, url string, body io.Reader, extraHeaders http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	user, pass := c.creds.BasicAuth()
	req.SetBasicAuth(user, pass)
	req.Header.Set("User-Agent", userAgent)

	for key, vals := range extraHeaders {
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed",
			slog.String("method", method),
			slog.String("url", url),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	return resp, nil
}

func (c *Client) terminalError(method, path string, statusCode int, body []byte, attempt int) *Error {
	werr := &Error{
		StatusCode: statusCode,
		Method:     method,
		Path:       path,
		Message:    string(body),
		Err:        classifyStatus(statusCode),
	}

	if attempt > 0 {
		c.logger.Error("request failed after retries",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", statusCode),
			slog.Int("attempts", attempt+1),
		)
	} else {
		c.logger.Warn("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", statusCode),
		)
	}

	return werr
}

// retryBackoff returns the backoff duration for a retryable response,
// honoring Retry-After on 429/503 when present.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with +/-25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
