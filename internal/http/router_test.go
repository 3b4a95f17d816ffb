package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/splax/pwnarena/internal/domain"
	"github.com/splax/pwnarena/internal/events"
	"github.com/splax/pwnarena/internal/repository/memory"
	"github.com/splax/pwnarena/internal/service/catalog"
	"github.com/splax/pwnarena/internal/service/powerup"
	"github.com/splax/pwnarena/internal/ws"
	"github.com/splax/pwnarena/pkg/config"
	jwtpkg "github.com/splax/pwnarena/pkg/jwt"
)

const (
	testSecret       = "test-secret"
	testScoringToken = "scoring-token"
)

var base = time.Date(2025, time.March, 14, 18, 0, 0, 0, time.UTC)

type testEnv struct {
	router *Router
	repo   *memory.Repository
	hub    *ws.Hub
	clock  *clockwork.FakeClock
}

func newTestEnv(t *testing.T, cfg Config) testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(base)
	repo := memory.New(clock.Now)
	repo.AddTeam(domain.Team{ID: "a", Name: "alpha", Points: 1000})
	repo.AddTeam(domain.Team{ID: "b", Name: "bravo", Points: 1000})
	if err := catalog.New(repo, logger).Seed(context.Background(), catalog.Defaults()); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	hub := ws.NewHub(8)
	t.Cleanup(hub.Close)
	svc := powerup.New(repo, powerup.SettingsFromConfig(config.DefaultEconomy()), logger,
		powerup.WithClock(clock),
		powerup.WithPublisher(events.NewTeamFeed(hub)),
	)
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	if cfg.ScoringToken == "" {
		cfg.ScoringToken = testScoringToken
	}
	router := NewRouter(logger, svc, hub, nil, cfg)
	router.now = clock.Now
	t.Cleanup(router.Close)
	return testEnv{router: router, repo: repo, hub: hub, clock: clock}
}

func tokenFor(t *testing.T, teamID string) string {
	t.Helper()
	token, err := jwtpkg.GenerateToken(teamID, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (e testEnv) do(t *testing.T, method, path, teamID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if teamID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, teamID))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestPowerupsRequireAuthentication(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/powerups", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := decode(t, rec)["code"]; code != "unauthorized" {
		t.Fatalf("unexpected code %v", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/powerups", nil)
	forged, _ := jwtpkg.GenerateToken("a", "wrong-secret", time.Hour)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected forged token to be rejected, got %d", rec.Code)
	}
}

func TestListPowerups(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/powerups", "a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	list, ok := decode(t, rec)["powerups"].([]any)
	if !ok || len(list) != len(domain.Kinds) {
		t.Fatalf("expected %d powerups, got %v", len(domain.Kinds), decode(t, rec)["powerups"])
	}
	first := list[0].(map[string]any)
	if first["kind"] != "lucky_draw" || first["uses_left"] != float64(10) {
		t.Fatalf("unexpected first entry %v", first)
	}
}

func TestDescribePowerup(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/powerups/siphon", "a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["requires_target"] != true || body["max_uses"] != float64(2) {
		t.Fatalf("unexpected body %v", body)
	}

	rec = env.do(t, http.MethodGet, "/powerups/nuke", "a", nil)
	if rec.Code != http.StatusNotFound || decode(t, rec)["code"] != "invalid_kind" {
		t.Fatalf("expected invalid_kind 404, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUsePowerupFlow(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/powerups/sabotage/use", "a", map[string]string{"target": "bravo"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["point_delta"] != float64(500) || body["uses_left"] != float64(2) || body["target_team_id"] != "b" {
		t.Fatalf("unexpected body %v", body)
	}

	rec = env.do(t, http.MethodPost, "/powerups/shield/use", "b", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected shield to succeed, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/powerups/airstrike/use", "a", map[string]string{"target": "bravo"})
	if rec.Code != http.StatusConflict || decode(t, rec)["code"] != "target_shielded" {
		t.Fatalf("expected target_shielded, got %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/powerups/siphon/use", "a", map[string]string{"target": "alpha"})
	if rec.Code != http.StatusBadRequest || decode(t, rec)["code"] != "invalid_target" {
		t.Fatalf("expected invalid_target, got %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/powerups/sabotage/use", "a", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestUsePowerupRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/powerups/sabotage/use", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "a"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUseRateLimitPerTeam(t *testing.T) {
	env := newTestEnv(t, Config{UseLimit: 1})

	rec := env.do(t, http.MethodPost, "/powerups/lucky_draw/use", "a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected first use to pass, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("expected rate limit headers, got %v", rec.Header())
	}
	rec = env.do(t, http.MethodPost, "/powerups/lucky_draw/use", "a", nil)
	if rec.Code != http.StatusTooManyRequests || decode(t, rec)["code"] != "rate_limited" {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After on rejection")
	}
	rec = env.do(t, http.MethodPost, "/powerups/lucky_draw/use", "b", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("limit must be per team, got %d", rec.Code)
	}
}

func TestShieldListings(t *testing.T) {
	env := newTestEnv(t, Config{})
	if rec := env.do(t, http.MethodPost, "/powerups/shield/use", "b", nil); rec.Code != http.StatusOK {
		t.Fatalf("shield failed: %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/powerups/shields/active", "a", nil)
	teams := decode(t, rec)["teams"].([]any)
	if len(teams) != 1 || teams[0].(map[string]any)["name"] != "bravo" {
		t.Fatalf("expected bravo shielded, got %v", teams)
	}
	rec = env.do(t, http.MethodGet, "/powerups/teams/vulnerable", "a", nil)
	teams = decode(t, rec)["teams"].([]any)
	if len(teams) != 1 || teams[0].(map[string]any)["name"] != "alpha" {
		t.Fatalf("expected alpha vulnerable, got %v", teams)
	}

	env.clock.Advance(15 * time.Minute)
	rec = env.do(t, http.MethodGet, "/powerups/shields/active", "a", nil)
	if teams := decode(t, rec)["teams"].([]any); len(teams) != 0 {
		t.Fatalf("expected shield expired, got %v", teams)
	}
}

func TestEffectsListing(t *testing.T) {
	env := newTestEnv(t, Config{})
	if rec := env.do(t, http.MethodPost, "/powerups/sabotage/use", "a", map[string]string{"target": "bravo"}); rec.Code != http.StatusOK {
		t.Fatalf("sabotage failed: %d", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/effects", "b", nil)
	effects := decode(t, rec)["effects"].([]any)
	if len(effects) != 1 {
		t.Fatalf("expected one effect, got %v", effects)
	}
	effect := effects[0].(map[string]any)
	if effect["kind"] != "sabotage" || effect["target_team_id"] != "b" || effect["expires_at"] == nil {
		t.Fatalf("unexpected effect %v", effect)
	}
}

func TestScoringGambleCallback(t *testing.T) {
	env := newTestEnv(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/scoring/gamble?team_id=a", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected missing token to be rejected, got %d", rec.Code)
	}

	if rec := env.do(t, http.MethodPost, "/powerups/gamble/use", "a", nil); rec.Code != http.StatusOK {
		t.Fatalf("gamble failed: %d", rec.Code)
	}
	scoring := func(method string) map[string]any {
		req := httptest.NewRequest(method, "/scoring/gamble?team_id=a", nil)
		req.Header.Set("X-Scoring-Token", testScoringToken)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", method, rec.Code, rec.Body.String())
		}
		return decode(t, rec)
	}
	if body := scoring(http.MethodGet); body["active"] != true {
		t.Fatalf("expected gamble active, got %v", body)
	}
	if body := scoring(http.MethodPost); body["consumed"] != true {
		t.Fatalf("expected gamble consumed, got %v", body)
	}
	if body := scoring(http.MethodGet); body["active"] != false {
		t.Fatalf("expected gamble settled, got %v", body)
	}
}

func TestHealthzReportsDatabase(t *testing.T) {
	env := newTestEnv(t, Config{DBHealth: func(context.Context) error { return errors.New("connection refused") }})
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if decode(t, rec)["status"] != "degraded" {
		t.Fatalf("expected degraded status")
	}
}

func TestEffectsFeedOverWebsocket(t *testing.T) {
	env := newTestEnv(t, Config{})
	server := httptest.NewServer(env.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/effects?access_token=" + tokenFor(t, "b")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for env.hub.Subscribers("b") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if rec := env.do(t, http.MethodPost, "/powerups/airstrike/use", "a", map[string]string{"target": "bravo"}); rec.Code != http.StatusOK {
		t.Fatalf("airstrike failed: %d", rec.Code)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event domain.UseEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Kind != domain.KindAirstrike || event.TeamID != "a" || event.TargetTeamID != "b" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(base)
	limiter := NewMemoryRateLimiter(clock)
	defer limiter.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := limiter.Allow(ctx, "k", 3, time.Minute); !d.allowed {
			t.Fatalf("request %d should pass", i)
		}
	}
	d := limiter.Allow(ctx, "k", 3, time.Minute)
	if d.allowed || d.count != 3 || d.remaining(3) != 0 {
		t.Fatalf("expected fourth request rejected, got %+v", d)
	}
	if d := limiter.Allow(ctx, "other", 3, time.Minute); !d.allowed {
		t.Fatalf("keys must be independent")
	}
	if d := limiter.Allow(ctx, "k", 0, time.Minute); !d.allowed {
		t.Fatalf("zero limit disables limiting")
	}

	clock.Advance(time.Minute)
	d = limiter.Allow(ctx, "k", 3, time.Minute)
	if !d.allowed || d.count != 1 || !d.windowEnd.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("expected a fresh window, got %+v", d)
	}
}

func TestRateMetricKeyDropsIdentity(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"team:a", "team"},
		{"ip:10.0.0.1", "ip"},
		{"", "unknown"},
		{"bare", "bare"},
	}
	for _, tc := range cases {
		if got := rateMetricKey(tc.key); got != tc.want {
			t.Fatalf("rateMetricKey(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestRequestTokenSources(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/effects?access_token=q", nil)
	if _, err := requestToken(req); !errors.Is(err, errMissingToken) {
		t.Fatalf("query token must only count on websocket upgrades, got %v", err)
	}

	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	if token, err := requestToken(req); err != nil || token != "q" {
		t.Fatalf("expected query token on upgrade, got %q %v", token, err)
	}

	req.Header.Set("Authorization", "bearer h")
	if token, err := requestToken(req); err != nil || token != "h" {
		t.Fatalf("header must win over query, got %q %v", token, err)
	}

	req.Header.Set("Authorization", "Basic abc")
	if _, err := requestToken(req); !errors.Is(err, errMalformedAuth) {
		t.Fatalf("expected malformed header error, got %v", err)
	}
}
