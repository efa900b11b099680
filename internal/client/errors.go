package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrNotConfigured is returned by adapters whose credentials are missing.
var ErrNotConfigured = errors.New("client not configured")

// ErrUnsupportedPayload is returned when an upstream hands back a payload
// shape the service does not know how to drain.
var ErrUnsupportedPayload = errors.New("unsupported payload type")

// APIError is a non-2xx answer from an upstream service.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s error (status %d)", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Service, e.StatusCode, e.Body)
}

// StatusCode extracts the upstream status from err, or 0 if err is not an APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// maxErrorBody caps how much of an upstream error body is kept on APIError.
const maxErrorBody = 4096

// newAPIError builds an APIError from a failed response, reading a bounded
// amount of its body.
func newAPIError(service string, resp *http.Response) *APIError {
	body, _ := readAllWithLimit(resp.Body, maxErrorBody)
	return &APIError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

// ResponseTooLargeError reports that a response body exceeded the limit.
type ResponseTooLargeError struct {
	Limit int64
}

func (e ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeded limit of %d bytes", e.Limit)
}

// readAllWithLimit reads r up to limit bytes. If limit <= 0, it behaves like io.ReadAll.
func readAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	lr := &io.LimitedReader{R: r, N: limit + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return data[:limit], ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}
