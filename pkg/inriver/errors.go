package inriver

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMissingAPIKey = errors.New("inriver api key is required")
	ErrMissingAPIURL = errors.New("inriver api url is required")
)

// UpstreamError is returned for any non-2xx response from the inriver API.
// Body holds the response text verbatim.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("inriver API error: %d %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (e *UpstreamError) IsServerError() bool {
	return e.StatusCode >= 500
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream) && upstream.StatusCode == http.StatusNotFound
}
