package spotify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	webPlayerOrigin = "https://open.spotify.com/"

	// Largest upstream body we are willing to buffer
	maxResponseBytes = 8 << 20
)

// NewHTTPClient returns the client shared by the registry, clock and lyrics calls
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// withoutRedirects copies client so that redirects are returned to the caller instead of followed.
// A redirect from the token endpoint means the cookie was not accepted.
func withoutRedirects(client *http.Client) *http.Client {
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &c
}

// setCommonHeaders sets the headers the web player sends on every request
func setCommonHeaders(req *http.Request, userAgent string) {
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Referer", webPlayerOrigin)
	req.Header.Set("Origin", webPlayerOrigin)
	req.Header.Set("Accept", "application/json")
}

// get performs a GET with the common headers and returns the status code and body.
// Transport failures are returned as UpstreamError; status handling is left to the caller.
func get(ctx context.Context, client *http.Client, operation, url, userAgent string, header http.Header) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("error creating %s request: %w", operation, err)
	}
	setCommonHeaders(req, userAgent)
	for key, values := range header {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, newUpstreamError(operation, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, newUpstreamError(operation, resp.StatusCode, fmt.Errorf("error reading response: %w", err))
	}
	return resp.StatusCode, body, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
