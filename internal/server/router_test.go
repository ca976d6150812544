package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/regiment/internal/attendance"
	"github.com/MarcoPoloResearchLab/regiment/internal/auth"
	"github.com/MarcoPoloResearchLab/regiment/internal/metrics"
	"github.com/MarcoPoloResearchLab/regiment/internal/notify"
	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	"github.com/MarcoPoloResearchLab/regiment/internal/tracker"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "regiment-bot"
	testAudience      = "regiment-ops"
)

type stubProgress struct {
	status tracker.Status
	err    error
}

func (s stubProgress) Refresh(context.Context, records.DiscordID) (tracker.Status, error) {
	return s.status, s.err
}

type stubSessions struct {
	sessions []attendance.Snapshot
}

func (s stubSessions) Sessions(context.Context) []attendance.Snapshot {
	return s.sessions
}

type stubValidator struct {
	err error
}

func (s stubValidator) ValidateRequest(*http.Request) (auth.OperatorClaims, error) {
	return auth.OperatorClaims{}, s.err
}

type testAPI struct {
	server   *httptest.Server
	store    *records.Store
	activity *ActivityDispatcher
	token    string
}

func newTestStore(t *testing.T) *records.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&records.Record{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := records.NewStore(records.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func newTestAPI(t *testing.T, progress ProgressRefresher, sessions SessionLister) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	validator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	token, _, err := issuer.Issue("ops-test", 0)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	store := newTestStore(t)
	activity := NewActivityDispatcher(nil)
	collectors := metrics.New()
	collectors.RankTransition(progression.RankConscript.String(), progression.RankTrooper.String())

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:            validator,
		Members:           store,
		Progress:          progress,
		Sessions:          sessions,
		Activity:          activity,
		Metrics:           collectors.Registry(),
		HeartbeatInterval: time.Hour,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testAPI{server: server, store: store, activity: activity, token: token}
}

func (api *testAPI) get(t *testing.T, path string) *http.Response {
	t.Helper()
	return api.do(t, http.MethodGet, path)
}

func (api *testAPI) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	request, err := http.NewRequest(method, api.server.URL+path, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+api.token)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func decode(t *testing.T, response *http.Response, target any) {
	t.Helper()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingTokens) {
		t.Fatalf("expected missing token validator error, got %v", err)
	}
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	api := newTestAPI(t, stubProgress{}, stubSessions{})

	health, err := http.Get(api.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("unexpected health status: %d", health.StatusCode)
	}

	metricsResponse, err := http.Get(api.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer metricsResponse.Body.Close()
	scanner := bufio.NewScanner(metricsResponse.Body)
	found := false
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "regiment_rank_transitions_total") {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected rank transition counter in metrics output")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t, stubProgress{}, stubSessions{})

	response, err := http.Get(api.server.URL + "/api/attendance/sessions")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", response.StatusCode)
	}
}

func TestMemberLookup(t *testing.T) {
	api := newTestAPI(t, stubProgress{}, stubSessions{})
	ctx := context.Background()
	if _, err := api.store.UpsertVerification(ctx, records.Link{
		DiscordID:      "300",
		RobloxUserID:   77,
		RobloxUsername: "Lookup",
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	response := api.get(t, "/api/members/300")
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", response.StatusCode)
	}
	var payload struct {
		Record     records.Record         `json:"record"`
		Evaluation progression.Evaluation `json:"evaluation"`
	}
	decode(t, response, &payload)
	if payload.Record.RobloxUsername != "Lookup" || payload.Evaluation.Rank != progression.RankConscript {
		t.Fatalf("unexpected member payload: %+v", payload)
	}
	if len(payload.Evaluation.Items) == 0 {
		t.Fatalf("expected evaluation checklist items")
	}

	byName := api.get(t, "/api/members?username=lookup")
	if byName.StatusCode != http.StatusOK {
		t.Fatalf("expected case-insensitive username lookup, got %d", byName.StatusCode)
	}

	missing := api.get(t, "/api/members/999")
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown member, got %d", missing.StatusCode)
	}

	noName := api.get(t, "/api/members")
	if noName.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without username, got %d", noName.StatusCode)
	}
}

func TestRefreshMemberMapsErrors(t *testing.T) {
	notVerified := newTestAPI(t, stubProgress{err: tracker.ErrNotVerified}, stubSessions{})
	if response := notVerified.do(t, http.MethodPost, "/api/members/300/refresh"); response.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for unverified member, got %d", response.StatusCode)
	}

	status := tracker.Status{
		Record:     records.Record{DiscordID: "300", RobloxUserID: 5, Rank: progression.RankTrooper},
		Evaluation: progression.Evaluation{Rank: progression.RankTrooper},
		Outcome:    notify.OutcomeIncomplete,
	}
	refreshed := newTestAPI(t, stubProgress{status: status}, stubSessions{})
	response := refreshed.do(t, http.MethodPost, "/api/members/300/refresh")
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", response.StatusCode)
	}
	var payload struct {
		Verified bool           `json:"verified"`
		Outcome  notify.Outcome `json:"notification_outcome"`
	}
	decode(t, response, &payload)
	if !payload.Verified || payload.Outcome != notify.OutcomeIncomplete {
		t.Fatalf("unexpected refresh payload: %+v", payload)
	}
}

func TestListSessions(t *testing.T) {
	sessions := stubSessions{sessions: []attendance.Snapshot{{
		ID:        "session-1",
		HostID:    "host",
		EventType: progression.EventRaidTraining,
		Phase:     attendance.PhaseReviewing,
		Attendees: []string{"1", "2"},
	}}}
	api := newTestAPI(t, stubProgress{}, sessions)

	response := api.get(t, "/api/attendance/sessions")
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", response.StatusCode)
	}
	var payload sessionsPayload
	decode(t, response, &payload)
	if len(payload.Sessions) != 1 || payload.Sessions[0].ID != "session-1" || len(payload.Sessions[0].Attendees) != 2 {
		t.Fatalf("unexpected sessions payload: %+v", payload)
	}
}

func TestActivityStreamEmitsCompletions(t *testing.T) {
	api := newTestAPI(t, stubProgress{}, stubSessions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, api.server.URL+"/api/activity/stream?topics=completion&access_token="+api.token, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", response.StatusCode)
	}

	type readResult struct {
		line string
		err  error
	}
	lines := make(chan readResult, 16)
	go func() {
		reader := bufio.NewReader(response.Body)
		for {
			line, err := reader.ReadString('\n')
			lines <- readResult{line: line, err: err}
			if err != nil {
				return
			}
		}
	}()

	published := false
	currentEvent := ""
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for completion event")
		case result := <-lines:
			if result.err != nil {
				t.Fatalf("failed to read stream: %v", result.err)
			}
			line := strings.TrimSpace(result.line)
			switch {
			case strings.HasPrefix(line, "event:"):
				currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:") && currentEvent == activityEventReady && !published:
				published = true
				_ = api.activity.AnnounceCompletion(context.Background(), notify.Completion{
					DiscordID:      "400",
					RobloxUsername: "Streamed",
					Rank:           progression.RankTrooper,
					Target:         progression.CompletionTrooper,
				})
			case strings.HasPrefix(line, "data:") && currentEvent == TopicCompletion:
				var payload struct {
					Topic string            `json:"topic"`
					Data  notify.Completion `json:"data"`
				}
				if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &payload); err != nil {
					t.Fatalf("failed to decode event payload: %v", err)
				}
				if payload.Topic != TopicCompletion || payload.Data.RobloxUsername != "Streamed" {
					t.Fatalf("unexpected completion payload: %+v", payload)
				}
				return
			}
		}
	}
}

func TestActivityStreamRejectsUnknownTopic(t *testing.T) {
	api := newTestAPI(t, stubProgress{}, stubSessions{})
	if response := api.get(t, "/api/activity/stream?topics=gossip"); response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown topic, got %d", response.StatusCode)
	}
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	testCases := []struct {
		name  string
		err   error
		level zapcore.Level
	}{
		{name: "expired", err: auth.ErrExpiredToken, level: zapcore.InfoLevel},
		{name: "unexpected", err: errors.New("signature mismatch"), level: zapcore.WarnLevel},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			request := httptest.NewRequest(http.MethodGet, "/api/attendance/sessions", http.NoBody)
			request.Header.Set("Authorization", "Bearer some-token")
			ctx.Request = request

			core, logs := observer.New(zapcore.DebugLevel)
			handler := &httpHandler{
				tokens: stubValidator{err: testCase.err},
				logger: zap.New(core),
			}

			handler.authorizeRequest(ctx)

			if recorder.Code != http.StatusUnauthorized {
				t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
			}
			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("expected exactly one log entry, got %d", len(entries))
			}
			if entries[0].Level != testCase.level {
				t.Fatalf("expected %s level, got %s", testCase.level, entries[0].Level)
			}
			if entries[0].Message != "token validation failed" {
				t.Fatalf("unexpected log message: %q", entries[0].Message)
			}
		})
	}
}

func TestCORSMiddlewareAllowsConfiguredOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware([]string{" https://ops.example.com "}))
	router.OPTIONS("/api/members", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/api/members", http.NoBody)
	request.Header.Set("Origin", "https://ops.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodGet)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "https://ops.example.com" {
		t.Fatalf("unexpected allow origin %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Authorization in allowed headers, got %q", allowHeaders)
	}
}
