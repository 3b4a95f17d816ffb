package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/pwnarena/internal/domain"
	"github.com/splax/pwnarena/internal/service/powerup"
	"github.com/splax/pwnarena/internal/ws"
)

// PowerupService is the engine surface the HTTP layer drives.
type PowerupService interface {
	Use(ctx context.Context, req powerup.UseRequest) (*powerup.UseResult, error)
	ListAvailable(ctx context.Context, teamID string) ([]powerup.Availability, error)
	Describe(ctx context.Context, teamID, kind string) (*powerup.Availability, error)
	ActiveEffects(ctx context.Context, teamID string) ([]domain.TemporalEffect, error)
	ActiveShields(ctx context.Context) ([]domain.Team, error)
	VulnerableTeams(ctx context.Context) ([]domain.Team, error)
	IsGambleActive(ctx context.Context, teamID string, now time.Time) (bool, error)
	ConsumeGamble(ctx context.Context, teamID string) (bool, error)
}

// FeedHub tracks live feed subscribers per team.
type FeedHub interface {
	Register(teamID string, client ws.Subscriber)
	Unregister(teamID string, client ws.Subscriber)
}

// Config carries the router's secrets and knobs.
type Config struct {
	JWTSecret    string
	ScoringToken string
	// UseLimit caps powerup uses per team per minute; zero disables it.
	UseLimit int
	DBHealth func(context.Context) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	powerups     PowerupService
	hub          FeedHub
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	jwtSecret    string
	scoringToken string
	useLimit     int
	dbHealth     func(context.Context) error
	now          func() time.Time
	metrics      *routerMetrics
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitTeamRead  = 120
	rateLimitWebsocket = 30
	rateLimitScoring   = 600
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, powerups PowerupService, hub FeedHub, limiter RateLimiter, cfg Config) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		powerups: powerups,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      limiter,
		jwtSecret:    cfg.JWTSecret,
		scoringToken: strings.TrimSpace(cfg.ScoringToken),
		useLimit:     cfg.UseLimit,
		dbHealth:     cfg.DBHealth,
		now:          time.Now,
		metrics:      newRouterMetrics(),
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter(nil)
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/powerups", r.audit("/powerups", r.handlerAuthRate("/powerups", rateLimitTeamRead, rateWindowDefault, r.handlePowerups)))
	r.mux.HandleFunc("/powerups/", r.audit("/powerups/*", r.requireAuth(r.handlePowerupSubroutes)))
	r.mux.HandleFunc("/effects", r.audit("/effects", r.handlerAuthRate("/effects", rateLimitTeamRead, rateWindowDefault, r.handleEffects)))
	r.mux.HandleFunc("/ws/effects", r.audit("/ws/effects", r.handlerAuthRate("/ws/effects", rateLimitWebsocket, rateWindowRealtime, r.handleEffectsWS)))
	r.mux.HandleFunc("/scoring/gamble", r.audit("/scoring/gamble", r.withRateLimit("/scoring/gamble", rateLimitScoring, rateWindowDefault, rateLimitKeyIP, r.handleScoringGamble)))
}

func (r *Router) handlePowerups(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.authInfo(w, req)
	if !ok {
		return
	}
	list, err := r.powerups.ListAvailable(req.Context(), info.TeamID)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"powerups": list})
}

func (r *Router) handlePowerupSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/powerups/"), "/")
	parts := strings.Split(trimmed, "/")
	switch {
	case trimmed == "":
		r.notFound(w)
	case trimmed == "shields/active":
		r.withRateLimit("/powerups/shields/active", rateLimitTeamRead, rateWindowDefault, r.rateLimitKeyTeam, r.handleActiveShields)(w, req)
	case trimmed == "teams/vulnerable":
		r.withRateLimit("/powerups/teams/vulnerable", rateLimitTeamRead, rateWindowDefault, r.rateLimitKeyTeam, r.handleVulnerableTeams)(w, req)
	case len(parts) == 1:
		r.withRateLimit("/powerups/{kind}", rateLimitTeamRead, rateWindowDefault, r.rateLimitKeyTeam, func(w http.ResponseWriter, req *http.Request) {
			r.handleDescribe(w, req, parts[0])
		})(w, req)
	case len(parts) == 2 && parts[1] == "use":
		r.withRateLimit("/powerups/{kind}/use", r.useLimit, rateWindowDefault, r.rateLimitKeyTeam, func(w http.ResponseWriter, req *http.Request) {
			r.handleUse(w, req, parts[0])
		})(w, req)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleDescribe(w http.ResponseWriter, req *http.Request, kind string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.authInfo(w, req)
	if !ok {
		return
	}
	av, err := r.powerups.Describe(req.Context(), info.TeamID, kind)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (r *Router) handleUse(w http.ResponseWriter, req *http.Request, kind string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.authInfo(w, req)
	if !ok {
		return
	}
	var payload struct {
		Target string `json:"target"`
	}
	if req.Body != nil {
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	res, err := r.powerups.Use(req.Context(), powerup.UseRequest{
		TeamID: info.TeamID,
		Kind:   kind,
		Target: payload.Target,
	})
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleActiveShields(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	teams, err := r.powerups.ActiveShields(req.Context())
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": marshalTeams(teams)})
}

func (r *Router) handleVulnerableTeams(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	teams, err := r.powerups.VulnerableTeams(req.Context())
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": marshalTeams(teams)})
}

func (r *Router) handleEffects(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.authInfo(w, req)
	if !ok {
		return
	}
	effects, err := r.powerups.ActiveEffects(req.Context(), info.TeamID)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"effects": marshalEffects(effects)})
}

func (r *Router) handleEffectsWS(w http.ResponseWriter, req *http.Request) {
	info, ok := r.authInfo(w, req)
	if !ok {
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(info.TeamID, client)
	go func() {
		defer func() {
			r.hub.Unregister(info.TeamID, client)
			client.Close()
		}()
		client.Wait()
	}()
}

// handleScoringGamble is the scoring subsystem's callback: GET asks whether the
// team has a gamble riding on its next solve, POST settles it.
func (r *Router) handleScoringGamble(w http.ResponseWriter, req *http.Request) {
	if !r.verifyScoringToken(w, req) {
		return
	}
	teamID := strings.TrimSpace(req.URL.Query().Get("team_id"))
	if teamID == "" {
		writeError(w, http.StatusBadRequest, "team_id query parameter required")
		return
	}
	switch req.Method {
	case http.MethodGet:
		active, err := r.powerups.IsGambleActive(req.Context(), teamID, r.now().UTC())
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"team_id": teamID, "active": active})
	case http.MethodPost:
		consumed, err := r.powerups.ConsumeGamble(req.Context(), teamID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"team_id": teamID, "consumed": consumed})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  r.now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// authInfo fetches the identity placed by requireAuth.
func (r *Router) authInfo(w http.ResponseWriter, req *http.Request) (authInfo, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return authInfo{}, false
	}
	return info, true
}

func marshalTeams(teams []domain.Team) []map[string]any {
	out := make([]map[string]any, 0, len(teams))
	for _, team := range teams {
		out = append(out, map[string]any{
			"id":     team.ID,
			"name":   team.Name,
			"points": team.Points,
		})
	}
	return out
}

func marshalEffects(effects []domain.TemporalEffect) []map[string]any {
	out := make([]map[string]any, 0, len(effects))
	for _, effect := range effects {
		item := map[string]any{
			"id":             effect.ID,
			"kind":           effect.Kind,
			"owner_team_id":  effect.OwnerTeamID,
			"applied_at":     effect.AppliedAt.UTC().Format(time.RFC3339Nano),
			"until_consumed": effect.UntilConsumed,
			"point_delta":    effect.PointDelta,
		}
		if effect.TargetTeamID != nil {
			item["target_team_id"] = *effect.TargetTeamID
		}
		if effect.ExpiresAt != nil {
			item["expires_at"] = effect.ExpiresAt.UTC().Format(time.RFC3339Nano)
		}
		if effect.Detail != "" {
			item["detail"] = effect.Detail
		}
		out = append(out, item)
	}
	return out
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.metrics.observeRequest(req.Method, route, status, duration)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "team"
			fields = append(fields, "team_id", info.TeamID)
		} else if strings.HasPrefix(req.URL.Path, "/scoring/") {
			actor = "scoring"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
