package roblox

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

const testGroupID = 555

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(ClientConfig{
		GroupID:           testGroupID,
		SecurityCookie:    "cookie-value",
		UsersBaseURL:      server.URL,
		GroupsBaseURL:     server.URL,
		ThumbnailsBaseURL: server.URL,
		HTTPClient:        server.Client(),
		RetryInterval:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestResolveUsername(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/usernames/users" {
			http.NotFound(w, r)
			return
		}
		var payload struct {
			Usernames []string `json:"usernames"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if len(payload.Usernames) != 1 || payload.Usernames[0] != "Recruit" {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{map[string]any{"id": 42, "name": "Recruit", "displayName": "Rec"}},
		})
	}))

	user, err := client.ResolveUsername(context.Background(), " Recruit ")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if user.ID != 42 || user.Name != "Recruit" {
		t.Fatalf("unexpected user %+v", user)
	}

	if _, err := client.ResolveUsername(context.Background(), "Nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGroupRankReturnsZeroForNonMember(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/users/1/groups/roles":
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{
				map[string]any{"group": map[string]any{"id": testGroupID}, "role": map[string]any{"id": 9, "rank": 3, "name": "Trooper"}},
			}})
		case "/v1/users/2/groups/roles":
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{
				map[string]any{"group": map[string]any{"id": 1}, "role": map[string]any{"id": 9, "rank": 200}},
			}})
		default:
			http.NotFound(w, r)
		}
	}))

	rank, err := client.GroupRank(context.Background(), 1)
	if err != nil || rank != 3 {
		t.Fatalf("expected rank 3, got %d %v", rank, err)
	}
	rank, err = client.GroupRank(context.Background(), 2)
	if err != nil || rank != 0 {
		t.Fatalf("expected rank 0 for non-member, got %d %v", rank, err)
	}
}

func TestRetriesServerErrorsButNotClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/users/1":
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"description": "code ABCD1234"})
		case "/v1/users/2":
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		default:
			http.NotFound(w, r)
		}
	}))

	description, err := client.ProfileDescription(context.Background(), 1)
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if description != "code ABCD1234" || calls.Load() != 3 {
		t.Fatalf("unexpected result %q after %d calls", description, calls.Load())
	}

	calls.Store(0)
	_, err = client.ProfileDescription(context.Background(), 2)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retry for 400, got %d calls", calls.Load())
	}
}

func TestIsPrimaryGroup(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/users/1/groups/primary/role":
			_ = json.NewEncoder(w).Encode(map[string]any{"group": map[string]any{"id": testGroupID}})
		case "/v1/users/2/groups/primary/role":
			_, _ = w.Write([]byte("null"))
		case "/v1/users/3/groups/primary/role":
			_ = json.NewEncoder(w).Encode(map[string]any{"group": map[string]any{"id": 7}})
		default:
			http.NotFound(w, r)
		}
	}))

	cases := map[int64]bool{1: true, 2: false, 3: false, 4: false}
	for userID, expected := range cases {
		primary, err := client.IsPrimaryGroup(context.Background(), userID)
		if err != nil {
			t.Fatalf("user %d: unexpected error %v", userID, err)
		}
		if primary != expected {
			t.Fatalf("user %d: expected %v, got %v", userID, expected, primary)
		}
	}
}

func TestAvatarURLFallsBackToPlaceholder(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("userIds") == "1" {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{map[string]any{"imageUrl": "https://cdn.example/1.png"}}})
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))

	if url := client.AvatarURL(context.Background(), 1); url != "https://cdn.example/1.png" {
		t.Fatalf("unexpected avatar %q", url)
	}
	if url := client.AvatarURL(context.Background(), 2); url != PlaceholderAvatarURL {
		t.Fatalf("expected placeholder, got %q", url)
	}
}

func TestSetGroupRankPerformsCSRFHandshake(t *testing.T) {
	var patches atomic.Int32
	var roleRequests atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/groups/555/roles":
			roleRequests.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{"roles": []any{
				map[string]any{"id": 30, "name": "Trooper", "rank": 3},
				map[string]any{"id": 40, "name": "Senior Trooper", "rank": 4},
			}})
		case r.Method == http.MethodPatch && r.URL.Path == "/v1/groups/555/users/9":
			patches.Add(1)
			if r.Header.Get("Cookie") != ".ROBLOSECURITY=cookie-value" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.Header.Get("X-Csrf-Token") != "token-1" {
				w.Header().Set("X-Csrf-Token", "token-1")
				w.WriteHeader(http.StatusForbidden)
				return
			}
			var payload map[string]int64
			_ = json.NewDecoder(r.Body).Decode(&payload)
			if payload["roleId"] != 40 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte("{}"))
		default:
			http.NotFound(w, r)
		}
	}))

	if err := client.SetGroupRank(context.Background(), 9, 4); err != nil {
		t.Fatalf("set rank failed: %v", err)
	}
	if patches.Load() != 2 {
		t.Fatalf("expected handshake plus write, got %d patches", patches.Load())
	}
	if err := client.SetGroupRank(context.Background(), 9, 4); err != nil {
		t.Fatalf("second set rank failed: %v", err)
	}
	if patches.Load() != 3 {
		t.Fatalf("expected cached csrf token to be reused, got %d patches", patches.Load())
	}
	if roleRequests.Load() != 1 {
		t.Fatalf("expected roles to be cached, got %d requests", roleRequests.Load())
	}
	if err := client.SetGroupRank(context.Background(), 9, 250); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestNewClientRequiresGroup(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); !errors.Is(err, ErrInvalidClientConfig) {
		t.Fatalf("expected ErrInvalidClientConfig, got %v", err)
	}
}
