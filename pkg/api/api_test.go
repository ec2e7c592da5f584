package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/litehook/litehook/pkg/config"
	"github.com/litehook/litehook/pkg/store"
	"github.com/litehook/litehook/pkg/supervisor"
)

func newTestAPI(t *testing.T) (*httptest.Server, *supervisor.Server) {
	t.Helper()
	st, err := store.New(store.MemoryPath)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}

	// Workers poll through a dead localhost proxy and keep running on
	// failure, so the tests never reach the network.
	proxies := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "127.0.0.1:9\n")
	}))
	t.Cleanup(proxies.Close)

	sup := supervisor.NewWithStore(config.GlobalConfig{
		PollInterval: 600,
		WebhookURL:   "https://hooks.example/h",
		ProxyListURL: proxies.URL,
		FailureMode:  config.FailureContinue,
	}, st)

	done := make(chan error, 1)
	go func() { done <- sup.Run() }()
	t.Cleanup(func() {
		sup.Stop()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("supervisor did not stop")
		}
		_ = sup.Close()
	})

	mux := http.NewServeMux()
	NewServer(sup).RegisterRoutes(mux)
	server := httptest.NewServer(CorsMiddleware(mux))
	t.Cleanup(server.Close)
	return server, sup
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestAPI(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decoding health response: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("expected status ok, got %q", health.Status)
	}
	if health.Version == "" {
		t.Error("expected a version string")
	}
}

func TestListenerLifecycle(t *testing.T) {
	server, _ := newTestAPI(t)

	// Empty list on a fresh service.
	resp := doJSON(t, http.MethodGet, server.URL+"/listeners", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var rows []store.ListenerRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decoding listener list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty list, got %+v", rows)
	}

	// Add.
	resp = doJSON(t, http.MethodPost, server.URL+"/listeners", config.ListenerConfig{
		ID:         "news",
		ChannelURL: "https://t.me/s/news",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for add, got %d", resp.StatusCode)
	}
	var added map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		t.Fatalf("decoding add response: %v", err)
	}
	if added["id"] != "news" {
		t.Errorf("expected id news, got %q", added["id"])
	}

	// Get.
	resp = doJSON(t, http.MethodGet, server.URL+"/listeners/news", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for get, got %d", resp.StatusCode)
	}
	var row store.ListenerRow
	if err := json.NewDecoder(resp.Body).Decode(&row); err != nil {
		t.Fatalf("decoding listener: %v", err)
	}
	if row.ChannelURL != "https://t.me/s/news" || !row.Active {
		t.Errorf("unexpected row: %+v", row)
	}

	// Delete.
	resp = doJSON(t, http.MethodDelete, server.URL+"/listeners/news", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for delete, got %d", resp.StatusCode)
	}

	// The row is gone; unknown ids decode as null.
	resp = doJSON(t, http.MethodGet, server.URL+"/listeners/news", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var gone *store.ListenerRow
	if err := json.NewDecoder(resp.Body).Decode(&gone); err != nil {
		t.Fatalf("decoding deleted listener: %v", err)
	}
	if gone != nil {
		t.Errorf("expected null for deleted listener, got %+v", gone)
	}
}

func TestAddListenerGeneratedID(t *testing.T) {
	server, _ := newTestAPI(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/listeners", config.ListenerConfig{
		ChannelURL: "https://t.me/s/news",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var added map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		t.Fatalf("decoding add response: %v", err)
	}
	if added["id"] == "" {
		t.Error("expected a generated id in the response")
	}
}

func TestAddListenerBadBody(t *testing.T) {
	server, _ := newTestAPI(t)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/listeners", bytes.NewBufferString("{not json"))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	if errResp.Error == "" {
		t.Error("expected an error field")
	}
}

func TestAddListenerInvalidConfig(t *testing.T) {
	server, _ := newTestAPI(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/listeners", config.ListenerConfig{
		ID:         "bad",
		ChannelURL: "https://example.com/not-telegram",
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 for invalid config, got %d", resp.StatusCode)
	}
}

func TestUpdateUnknownListener(t *testing.T) {
	server, _ := newTestAPI(t)

	resp := doJSON(t, http.MethodPut, server.URL+"/listeners/ghost", config.ListenerConfig{
		ChannelURL: "https://t.me/s/ghost",
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unknown listener, got %d", resp.StatusCode)
	}
}

func TestUpdateListenerEndpoint(t *testing.T) {
	server, sup := newTestAPI(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/listeners", config.ListenerConfig{
		ID:         "news",
		ChannelURL: "https://t.me/s/news",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for add, got %d", resp.StatusCode)
	}

	// The worker spawns asynchronously; updates need it live.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && len(sup.LiveListeners()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	resp = doJSON(t, http.MethodPut, server.URL+"/listeners/news", config.ListenerConfig{
		ChannelURL:   "https://t.me/s/news",
		PollInterval: 60,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for update, got %d", resp.StatusCode)
	}

	row, err := sup.GetListener("news")
	if err != nil {
		t.Fatalf("GetListener failed: %v", err)
	}
	if row.PollInterval != 60 {
		t.Errorf("expected persisted interval 60, got %d", row.PollInterval)
	}
}

func TestCorsHeaders(t *testing.T) {
	server, _ := newTestAPI(t)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/listeners", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
}
