package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/dtravers/tokenward/internal/config"
)

func TestRefresh_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Fatalf("expected refresh_token grant, got %q", got)
		}
		if got := r.Form.Get("refresh_token"); got != "old-refresh" {
			t.Fatalf("unexpected refresh token %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"access_token": "new-access",
			"refresh_token": "new-refresh",
			"token_type": "Bearer",
			"expires_in": 3600
		}`))
	}))
	defer srv.Close()

	client := NewClient(map[string]config.ProviderConfig{
		"jira": {ClientID: "cid", ClientSecret: "csecret", TokenURL: srv.URL},
	})

	res, err := client.Refresh(context.Background(), "jira", []byte("old-refresh"))
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if string(res.AccessSecret) != "new-access" {
		t.Fatalf("unexpected access secret %q", res.AccessSecret)
	}
	if string(res.RefreshSecret) != "new-refresh" {
		t.Fatalf("expected rotated refresh secret, got %q", res.RefreshSecret)
	}
	if res.ExpiresAt.Before(time.Now().Add(30 * time.Minute)) {
		t.Fatalf("expected expiry ~1h out, got %v", res.ExpiresAt)
	}
}

func TestRefresh_InvalidGrantIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	defer srv.Close()

	client := NewClient(map[string]config.ProviderConfig{
		"jira": {ClientID: "cid", TokenURL: srv.URL},
	})

	_, err := client.Refresh(context.Background(), "jira", []byte("revoked"))
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error for invalid_grant, got %v", err)
	}
}

func TestRefresh_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(map[string]config.ProviderConfig{
		"jira": {ClientID: "cid", TokenURL: srv.URL},
	})

	_, err := client.Refresh(context.Background(), "jira", []byte("r"))
	if !IsTransient(err) {
		t.Fatalf("expected transient error for 502, got %v", err)
	}
}

func TestRefresh_UnknownProviderIsPermanent(t *testing.T) {
	client := NewClient(nil)

	_, err := client.Refresh(context.Background(), "ghost", []byte("r"))
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error for unknown provider, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{
			name:      "429 rate limit",
			err:       &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}},
			transient: true,
		},
		{
			name:      "401 unauthorized",
			err:       &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusUnauthorized}, ErrorCode: "invalid_client"},
			transient: false,
		},
		{
			name:      "500 internal",
			err:       &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusInternalServerError}},
			transient: true,
		},
		{
			name:      "deadline exceeded",
			err:       context.DeadlineExceeded,
			transient: true,
		},
		{
			name:      "plain error",
			err:       errors.New("connection reset"),
			transient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classify(tt.err)
			if IsTransient(classified) != tt.transient {
				t.Fatalf("classify(%v): transient=%v, want %v", tt.err, IsTransient(classified), tt.transient)
			}
			if IsPermanent(classified) == tt.transient {
				t.Fatalf("classify(%v): inconsistent classification", tt.err)
			}
		})
	}
}
