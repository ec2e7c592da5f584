package listener

import (
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	llog "github.com/litehook/litehook/pkg/log"
	"github.com/litehook/litehook/pkg/version"
)

const clientTimeout = 30 * time.Second

// newClient builds the worker's HTTP client: 30-second timeout, a litehook
// User-Agent, and optionally a SOCKS5 proxy picked from the given list. The
// client is immutable for the worker's lifetime.
func newClient(proxyListURL string, logger *llog.Logger) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyListURL != "" {
		logger.Infof("configuring proxy")
		addr, err := pickProxy(proxyListURL)
		if err != nil {
			return nil, err
		}
		proxyURL, err := url.Parse("socks5h://" + addr)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy address %q: %w", addr, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{
		Timeout:   clientTimeout,
		Transport: &userAgentTransport{base: transport},
	}, nil
}

// pickProxy fetches the proxy list and returns one address chosen uniformly
// at random. This is not a pool, not a rotator, and the address is not
// validated.
func pickProxy(listURL string) (string, error) {
	resp, err := http.Get(listURL)
	if err != nil {
		return "", fmt.Errorf("fetching proxy list: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading proxy list: %w", err)
	}

	var addrs []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			addrs = append(addrs, line)
		}
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("proxy list %s is empty", listURL)
	}
	return addrs[rand.IntN(len(addrs))], nil
}

// userAgentTransport stamps every outbound request with the litehook
// User-Agent.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", version.UserAgent())
	return t.base.RoundTrip(clone)
}
