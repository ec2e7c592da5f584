package tme

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// FetchHTML performs an HTTP GET and returns the response body as text.
// Network and timeout errors are surfaced to the caller; the status code is
// not inspected, matching the page contract: an error page simply fails to
// parse as a channel page.
func FetchHTML(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request for %s: %w", url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response from %s: %w", url, err)
	}
	return string(body), nil
}
