package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewEnhancedClient(t *testing.T) {
	tests := []struct {
		name   string
		config *EnhancedClientConfig
		want   func(*EnhancedClient) bool
	}{
		{
			name:   "empty config gets defaults",
			config: &EnhancedClientConfig{},
			want: func(ec *EnhancedClient) bool {
				return ec.client.Timeout == 30*time.Second &&
					ec.userAgent == "bookforge/1.0" &&
					ec.rateLimiter != nil &&
					ec.retryPolicy != nil &&
					ec.defaultHeaders != nil
			},
		},
		{
			name: "custom config preserved",
			config: &EnhancedClientConfig{
				BaseClient:  &http.Client{Timeout: 5 * time.Second},
				RateLimiter: NewSimpleRateLimiter(2 * time.Second),
				UserAgent:   "CustomAgent/1.0",
				DefaultHeaders: map[string]string{
					"Authorization": "Bearer x",
				},
			},
			want: func(ec *EnhancedClient) bool {
				return ec.client.Timeout == 5*time.Second &&
					ec.userAgent == "CustomAgent/1.0" &&
					ec.defaultHeaders["Authorization"] == "Bearer x"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewEnhancedClient(tt.config)
			if !tt.want(got) {
				t.Errorf("NewEnhancedClient() validation failed")
			}
		})
	}
}

type echoRequest struct {
	Model string `json:"model"`
}

type echoResponse struct {
	Model  string `json:"model"`
	Header string `json:"header"`
}

func TestEnhancedClient_PostAndDecode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}

		var req echoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(echoResponse{Model: req.Model, Header: r.Header.Get("X-Test")})
	}))
	defer server.Close()

	client := NewEnhancedClient(&EnhancedClientConfig{DefaultHeaders: map[string]string{"X-Test": "default"}})

	var got echoResponse
	err := client.PostAndDecode(context.Background(), server.URL, echoRequest{Model: "small"}, &got, map[string]string{"X-Test": "override"})
	if err != nil {
		t.Fatalf("PostAndDecode() error = %v", err)
	}
	if got.Model != "small" || got.Header != "override" {
		t.Errorf("PostAndDecode() = %+v", got)
	}
}

func TestEnhancedClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "success"})
	}))
	defer server.Close()

	client := NewEnhancedClient(&EnhancedClientConfig{RetryPolicy: fastPolicy(3)})

	var got map[string]string
	if err := client.PostAndDecode(context.Background(), server.URL, map[string]int{"n": 1}, &got, nil); err != nil {
		t.Fatalf("PostAndDecode() error = %v", err)
	}
	if got["message"] != "success" || calls.Load() != 2 {
		t.Errorf("got %v after %d calls", got, calls.Load())
	}
}

func TestEnhancedClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewEnhancedClient(&EnhancedClientConfig{RetryPolicy: fastPolicy(3)})

	var got map[string]string
	err := client.PostAndDecode(context.Background(), server.URL, map[string]int{"n": 1}, &got, nil)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("PostAndDecode() error = %v, want HTTP 401", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}

func TestEnhancedClient_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewEnhancedClient(&EnhancedClientConfig{RetryPolicy: fastPolicy(3)})

	var got map[string]string
	if err := client.PostAndDecode(context.Background(), server.URL, map[string]int{"n": 1}, &got, nil); err == nil {
		t.Error("PostAndDecode() should fail on invalid JSON")
	}
}
