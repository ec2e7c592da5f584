package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/litehook/litehook/pkg/core"
	llog "github.com/litehook/litehook/pkg/log"
)

func strptr(s string) *string { return &s }

func testPayload() Payload {
	return Payload{
		Channel: core.Channel{ID: "examplenews", Name: strptr("Example News")},
		NewPosts: []core.Post{
			{ID: "examplenews/101", Text: strptr("hello")},
		},
	}
}

func TestSendSuccess(t *testing.T) {
	var gotSecret string
	var gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("x-secret")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := Send(context.Background(), server.Client(), server.URL, "s3cret", testPayload())
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotSecret != "s3cret" {
		t.Errorf("expected x-secret header %q, got %q", "s3cret", gotSecret)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected json content type, got %q", gotContentType)
	}

	var payload Payload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshaling delivered body: %v", err)
	}
	if payload.Channel.ID != "examplenews" {
		t.Errorf("unexpected channel in body: %+v", payload.Channel)
	}
	if len(payload.NewPosts) != 1 || payload.NewPosts[0].ID != "examplenews/101" {
		t.Errorf("unexpected posts in body: %+v", payload.NewPosts)
	}
}

func TestSendEmptySecret(t *testing.T) {
	var secretPresent bool
	var gotSecret string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("x-secret")
		_, secretPresent = r.Header["X-Secret"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := Send(context.Background(), server.Client(), server.URL, "", testPayload()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	// An unconfigured secret is still sent, as an empty header.
	if !secretPresent || gotSecret != "" {
		t.Errorf("expected empty x-secret header, present=%v value=%q", secretPresent, gotSecret)
	}
}

func TestSendRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	if err := Send(context.Background(), server.Client(), server.URL, "", testPayload()); err == nil {
		t.Error("expected error for 302 response")
	}
}

func TestSendWithRetryEventualSuccess(t *testing.T) {
	oldDelay := RetryDelay
	RetryDelay = time.Millisecond
	defer func() { RetryDelay = oldDelay }()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 5 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := llog.ForListener("webhook-test")
	err := SendWithRetry(context.Background(), server.Client(), logger, server.URL, "", testPayload(), DefaultMaxAttempts)
	if err != nil {
		t.Fatalf("SendWithRetry failed: %v", err)
	}
	if got := calls.Load(); got != 5 {
		t.Errorf("expected exactly 5 attempts, got %d", got)
	}
}

func TestSendWithRetryExhausted(t *testing.T) {
	oldDelay := RetryDelay
	RetryDelay = time.Millisecond
	defer func() { RetryDelay = oldDelay }()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	logger := llog.ForListener("webhook-test")
	err := SendWithRetry(context.Background(), server.Client(), logger, server.URL, "", testPayload(), DefaultMaxAttempts)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if got := calls.Load(); got != DefaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultMaxAttempts, got)
	}
}

func TestSendWithRetryCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger := llog.ForListener("webhook-test")
	err := SendWithRetry(ctx, server.Client(), logger, server.URL, "", testPayload(), DefaultMaxAttempts)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
