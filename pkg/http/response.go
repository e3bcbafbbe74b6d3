package http

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ReadResponseBody reads and closes HTTP response body
func ReadResponseBody(resp *http.Response) ([]byte, error) {
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("Failed to close response body", "error", closeErr)
		}
	}()
	return io.ReadAll(resp.Body)
}

// DrainAndClose discards the rest of the body so the connection can be reused.
func DrainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if err := resp.Body.Close(); err != nil {
		slog.Debug("Failed to close response body", "error", err)
	}
}

// GetContentType returns the content type of the response
func GetContentType(resp *http.Response) string {
	return resp.Header.Get("Content-Type")
}

// EnsureStatusOK checks if the response status is 200 OK
func EnsureStatusOK(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d %s", resp.StatusCode, resp.Status)
	}
	return nil
}

// EnsureSuccess checks for any 2xx status.
func EnsureSuccess(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d %s", resp.StatusCode, resp.Status)
	}
	return nil
}
