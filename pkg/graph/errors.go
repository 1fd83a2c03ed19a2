package graph

import (
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrRateLimited is returned when the server keeps answering 429 after
	// the retry budget is spent.
	ErrRateLimited = pkgerrors.New("rate limited by graph api")

	// ErrUnavailable is returned when the server keeps answering 503 after
	// the retry budget is spent.
	ErrUnavailable = pkgerrors.New("graph api unavailable")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s %s: got %d %s: %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), body)
}

// Temporary reports whether retrying later may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

// Unwrap lets errors.Is match ErrRateLimited and ErrUnavailable.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the api.
func IsNotFound(err error) bool {
	var se *StatusError
	return pkgerrors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
