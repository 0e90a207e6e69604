package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"kalem/internal/config"
	"kalem/internal/middleware"
	"kalem/internal/models"
	"kalem/internal/services"
	"kalem/pkg/auth"
)

type stubProvider struct {
	reply string
	err   error
}

func (p *stubProvider) Complete(ctx context.Context, req services.CompletionRequest) (*services.CompletionResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &services.CompletionResult{Reply: p.reply}, nil
}

type testApp struct {
	app       *fiber.App
	store     *services.SessionStore
	analytics *services.AnalyticsService
	jwtAuth   *auth.LocalJWTAuth
}

func newTestApp(t *testing.T, provider services.CompletionProvider, chatMax int) *testApp {
	t.Helper()

	store := services.NewSessionStore(20, 1*time.Hour, 30*time.Minute, services.LanguageEnglish)
	analytics := services.NewAnalyticsService(nil)
	chatService := services.NewChatService(store, nil, provider, analytics, 500)

	jwtAuth, err := auth.NewLocalJWTAuth("test-secret", 1*time.Hour)
	if err != nil {
		t.Fatalf("jwt setup failed: %v", err)
	}

	chatHandler := NewChatHandler(chatService, analytics)

	rateLimits := &middleware.RateLimitConfig{
		GlobalAPIMax:        1000,
		GlobalAPIExpiration: 1 * time.Minute,
		ChatMax:             chatMax,
		ChatExpiration:      1 * time.Minute,
	}

	app := fiber.New()
	api := app.Group("/api")
	chat := api.Group("/chat", middleware.ActorResolver(jwtAuth))
	chat.Post("/", middleware.ChatRateLimiter(rateLimits, nil, analytics), chatHandler.SendMessage)
	chat.Delete("/", chatHandler.ClearHistory)

	chat.Get("/analytics", middleware.AdminMiddleware(&config.Config{}), chatHandler.GetAnalytics)

	return &testApp{app: app, store: store, analytics: analytics, jwtAuth: jwtAuth}
}

// postChat sends one chat turn and returns the status code and parsed body.
func postChat(t *testing.T, app *fiber.App, message string) (int, map[string]interface{}) {
	t.Helper()

	body, _ := json.Marshal(models.ChatRequest{Message: message})
	req := httptest.NewRequest("POST", "/api/chat/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	parsed := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			t.Fatalf("failed to parse response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, parsed
}

func TestSendMessageSuccess(t *testing.T) {
	ta := newTestApp(t, &stubProvider{reply: "Glad you asked!"}, 100)

	status, body := postChat(t, ta.app, "Hello, what do you write about?")
	if status != 200 {
		t.Fatalf("expected 200, got %d (%v)", status, body)
	}
	if body["success"] != true {
		t.Error("expected success true")
	}
	if body["reply"] != "Glad you asked!" {
		t.Errorf("unexpected reply %v", body["reply"])
	}
	if sid, _ := body["sessionId"].(string); !strings.HasPrefix(sid, "guest-") {
		t.Errorf("expected a guest session id, got %v", body["sessionId"])
	}
	if body["userType"] != models.UserTypeGuest {
		t.Errorf("expected guest user type, got %v", body["userType"])
	}
	if ta.store.Len() != 1 {
		t.Errorf("expected one session, got %d", ta.store.Len())
	}
}

func TestSendMessageValidation(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{"empty message", ""},
		{"whitespace message", "   "},
		{"over length", strings.Repeat("a", 501)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestApp(t, &stubProvider{reply: "ok"}, 100)

			status, _ := postChat(t, ta.app, tt.message)
			if status != 400 {
				t.Errorf("expected 400, got %d", status)
			}
			if ta.store.Len() != 0 {
				t.Error("rejected input must not create a session")
			}
		})
	}
}

func TestSendMessageProviderErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"quota exhausted", services.ErrProviderQuota, 503},
		{"provider rate limited", services.ErrProviderRateLimited, 429},
		{"provider auth", services.ErrProviderAuth, 401},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestApp(t, &stubProvider{err: tt.err}, 100)

			status, body := postChat(t, ta.app, "Hello over there, anyone home?")
			if status != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, status)
			}
			if msg, _ := body["error"].(string); msg == "" || strings.Contains(msg, "quota") {
				t.Errorf("expected a generic client message, got %q", msg)
			}
		})
	}
}

func TestClearHistoryIsIdempotent(t *testing.T) {
	ta := newTestApp(t, &stubProvider{reply: "ok"}, 100)

	if status, body := postChat(t, ta.app, "remember this"); status != 200 {
		t.Fatalf("setup turn failed with %d: %v", status, body)
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("DELETE", "/api/chat/", nil)
		resp, err := ta.app.Test(req, -1)
		if err != nil {
			t.Fatalf("delete %d failed: %v", i+1, err)
		}
		if resp.StatusCode != 200 {
			t.Errorf("delete %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}

	if ta.store.Len() != 0 {
		t.Errorf("expected no sessions after clear, got %d", ta.store.Len())
	}
}

func TestChatRateLimitRejects(t *testing.T) {
	ta := newTestApp(t, &stubProvider{reply: "ok"}, 2)

	for i := 0; i < 2; i++ {
		if status, _ := postChat(t, ta.app, "hello there my friend"); status != 200 {
			t.Fatalf("request %d: expected 200, got %d", i+1, status)
		}
	}

	status, body := postChat(t, ta.app, "hello there once more")
	if status != 429 {
		t.Fatalf("expected 429 after the limit, got %d", status)
	}
	if _, ok := body["retry_after"]; !ok {
		t.Error("expected retry_after in the rate limit response")
	}
	if got := ta.analytics.RateLimitedCount(); got != 1 {
		t.Errorf("expected 1 rate limit event recorded, got %d", got)
	}

	// The rejected turn never reached the pipeline
	if got := ta.analytics.InteractionCount(); got != 2 {
		t.Errorf("expected 2 interactions recorded, got %d", got)
	}
}

func TestAnalyticsRequiresAdmin(t *testing.T) {
	ta := newTestApp(t, &stubProvider{reply: "ok"}, 100)

	// Guests are rejected
	req := httptest.NewRequest("GET", "/api/chat/analytics", nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 403 {
		t.Errorf("expected 403 for a guest, got %d", resp.StatusCode)
	}

	// Authenticated non-admins are rejected
	userToken, err := ta.jwtAuth.GenerateToken("user-1", "reader@example.com", "user")
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}
	req = httptest.NewRequest("GET", "/api/chat/analytics", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, err = ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 403 {
		t.Errorf("expected 403 for a non-admin, got %d", resp.StatusCode)
	}
}

func TestAnalyticsDisabledWithoutStorage(t *testing.T) {
	ta := newTestApp(t, &stubProvider{reply: "ok"}, 100)

	adminToken, err := ta.jwtAuth.GenerateToken("admin-1", "admin@example.com", "admin")
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/chat/analytics", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("expected 503 with no analytics storage, got %d", resp.StatusCode)
	}
}

func TestAnalyticsRejectsBadDays(t *testing.T) {
	ta := newTestApp(t, &stubProvider{reply: "ok"}, 100)

	adminToken, err := ta.jwtAuth.GenerateToken("admin-1", "admin@example.com", "admin")
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/chat/analytics?days=9999", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for an out-of-range period, got %d", resp.StatusCode)
	}
}
