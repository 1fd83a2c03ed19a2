// Package client talks to a running battfleet dashboard server.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const unixPrefix = "unix://"

// Client is a client of the dashboard server.
type Client struct {
	addr       string
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for addr, which is either a host:port, an
// http(s) URL or unix:// followed by a socket path.
func NewClient(addr string) *Client {
	c := &Client{
		addr:       addr,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}

	switch {
	case strings.HasPrefix(addr, unixPrefix):
		socketPath := strings.TrimPrefix(addr, unixPrefix)
		c.baseURL = "http://unix"
		c.httpClient.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				conn, err := d.DialContext(ctx, "unix", socketPath)
				if err != nil {
					if errors.Is(err, os.ErrNotExist) {
						return nil, ErrDaemonNotRunning
					}
					if errors.Is(err, os.ErrPermission) {
						return nil, ErrPermissionDenied
					}
					logrus.Errorf("failed to connect to unix socket: %v", err)
					return nil, err
				}
				return conn, nil
			},
		}
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		c.baseURL = strings.TrimRight(addr, "/")
	default:
		c.baseURL = "http://" + addr
	}

	return c
}

// Send sends a request to the server and returns the response body.
func (c *Client) Send(ctx context.Context, method string, path string, data string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"addr":   c.addr,
	}).Debug("sending request")

	var body io.Reader
	if data != "" {
		body = strings.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isConnRefused(err) {
			return "", ErrDaemonNotRunning
		}
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(b)))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("got %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return string(b), nil
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, path string) (string, error) {
	return c.Send(ctx, http.MethodGet, path, "")
}

// Post sends a POST request.
func (c *Client) Post(ctx context.Context, path string, data string) (string, error) {
	return c.Send(ctx, http.MethodPost, path, data)
}

func isConnRefused(err error) bool {
	return strings.Contains(err.Error(), "connection refused") || errors.Is(err, ErrDaemonNotRunning)
}
