// Package graph is a small client for the parts of the Microsoft Graph API
// battfleet needs: custom attribute scripts, their device run states,
// directory users and mail.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Graph endpoint exposing device management scripts.
const DefaultBaseURL = "https://graph.microsoft.com/beta"

const defaultTimeout = 60 * time.Second

// RetryPolicy controls how throttled and unavailable responses are retried.
type RetryPolicy struct {
	// RateLimitAttempts is the total number of attempts for a request
	// answered with 429, including the first one.
	RateLimitAttempts int
	// RateLimitBaseDelay is the first backoff when the server does not send
	// Retry-After. It doubles on every attempt.
	RateLimitBaseDelay time.Duration
	// MaxDelay bounds any backoff.
	MaxDelay time.Duration
	// UnavailableBackoff is the fixed ladder used for 503 responses.
	UnavailableBackoff []time.Duration
}

// DefaultRetryPolicy is used unless WithRetryPolicy is given.
var DefaultRetryPolicy = RetryPolicy{
	RateLimitAttempts:  3,
	RateLimitBaseDelay: 2 * time.Second,
	MaxDelay:           60 * time.Second,
	UnavailableBackoff: []time.Duration{time.Second, 2 * time.Second, 5 * time.Second},
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Client talks to the Graph API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryPolicy
	sleep      SleepFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the http client. Authentication is then up to
// the given client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithSleep replaces the function used to wait between retries.
func WithSleep(s SleepFunc) Option {
	return func(c *Client) {
		c.sleep = s
	}
}

// NewClient returns a Client for baseURL. Requests are authorized with
// tokens from ts; a nil ts sends no Authorization header.
func NewClient(baseURL string, ts oauth2.TokenSource, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	hc := &http.Client{Timeout: defaultTimeout}
	if ts != nil {
		hc = oauth2.NewClient(context.Background(), ts)
		hc.Timeout = defaultTimeout
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
		retry:      DefaultRetryPolicy,
		sleep:      sleepContext,
	}
	for _, o := range opts {
		o(c)
	}

	return c
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Send sends a request and retries throttled (429) and unavailable (503)
// responses. Any other non-2xx status is returned as a *StatusError.
func (c *Client) Send(ctx context.Context, method string, path string, payload []byte) ([]byte, error) {
	url := c.resolve(path)

	rateLimited := 0
	unavailable := 0

	for {
		code, header, body, err := c.do(ctx, method, url, payload)
		if err != nil {
			return nil, err
		}

		if code >= 200 && code <= 299 {
			return body, nil
		}

		statusErr := &StatusError{
			Method:     method,
			URL:        url,
			StatusCode: code,
			Body:       string(body),
		}

		var delay time.Duration
		switch code {
		case http.StatusTooManyRequests:
			rateLimited++
			if rateLimited >= c.retry.RateLimitAttempts {
				return nil, pkgerrors.Wrapf(statusErr, "giving up after %d throttled attempts", rateLimited)
			}
			delay = c.rateLimitDelay(header.Get("Retry-After"), rateLimited)
		case http.StatusServiceUnavailable:
			if unavailable >= len(c.retry.UnavailableBackoff) {
				return nil, pkgerrors.Wrapf(statusErr, "giving up after %d attempts", unavailable+1)
			}
			delay = c.retry.UnavailableBackoff[unavailable]
			unavailable++
		default:
			return nil, statusErr
		}

		retriesTotal.WithLabelValues(strconv.Itoa(code)).Inc()
		logrus.WithFields(logrus.Fields{
			"method": method,
			"url":    url,
			"code":   code,
			"delay":  delay,
		}).Warn("graph api asked us to back off, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, pkgerrors.Wrapf(err, "interrupted while backing off")
		}
	}
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) (int, http.Header, []byte, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"url":    url,
	}).Debug("sending request")

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, nil, pkgerrors.Wrapf(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, pkgerrors.Wrapf(err, "failed to send request")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, pkgerrors.Wrapf(err, "failed to read response body")
	}

	requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	logrus.WithFields(logrus.Fields{
		"code":   resp.StatusCode,
		"length": len(b),
	}).Debug("got response")

	return resp.StatusCode, resp.Header, b, nil
}

// rateLimitDelay honours Retry-After (seconds or an HTTP date) and otherwise
// grows exponentially. Either way it is bounded by MaxDelay.
func (c *Client) rateLimitDelay(retryAfter string, attempt int) time.Duration {
	var d time.Duration

	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(retryAfter); err == nil {
		d = time.Until(t)
		if d < 0 {
			d = 0
		}
	} else {
		d = c.retry.RateLimitBaseDelay
		for i := 1; i < attempt && d < c.retry.MaxDelay; i++ {
			d *= 2
		}
	}

	if c.retry.MaxDelay > 0 && d > c.retry.MaxDelay {
		d = c.retry.MaxDelay
	}
	return d
}

// getJSON fetches path and decodes the body into v.
func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	body, err := c.Send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return pkgerrors.Wrapf(err, "failed to decode response of %s", path)
	}
	return nil
}

type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// listPages follows @odata.nextLink until the last page, calling fn for each
// page in arrival order. Pages are fetched one after another because each
// link comes from the previous response.
func listPages[T any](ctx context.Context, c *Client, path string, fn func([]T) error) error {
	seen := map[string]struct{}{}
	n := 0

	for path != "" {
		if _, ok := seen[path]; ok {
			return pkgerrors.Errorf("pagination loop detected at %s", path)
		}
		seen[path] = struct{}{}

		var p page[T]
		if err := c.getJSON(ctx, path, &p); err != nil {
			return pkgerrors.Wrapf(err, "failed to fetch page %d", n+1)
		}
		n++
		pagesTotal.Inc()

		if err := fn(p.Value); err != nil {
			return err
		}
		path = p.NextLink
	}

	return nil
}
