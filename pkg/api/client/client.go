package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to the arena powerup API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API. Code carries the
// stable machine-readable reason, e.g. "target_shielded".
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("api request failed (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// auth selects the credential attached to a request.
type auth struct {
	bearer  string
	scoring string
}

func (c *Client) do(ctx context.Context, method, path string, body any, creds auth, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(creds.bearer); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if token := strings.TrimSpace(creds.scoring); token != "" {
		req.Header.Set("X-Scoring-Token", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := extractError(resp.Body)
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) APIError {
	if body == nil {
		return APIError{}
	}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return APIError{}
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return APIError{Message: strings.TrimSpace(string(data))}
	}
	return APIError{Code: payload.Code, Message: strings.TrimSpace(payload.Error)}
}

// Powerup is a catalog entry as seen by the calling team.
type Powerup struct {
	Kind           string `json:"kind"`
	Cost           int    `json:"cost"`
	MaxUses        int    `json:"max_uses"`
	UsesLeft       int    `json:"uses_left"`
	RequiresTarget bool   `json:"requires_target"`
	Description    string `json:"description"`
}

// ListPowerups returns the active catalog with the caller's remaining uses.
func (c *Client) ListPowerups(ctx context.Context, token string) ([]Powerup, error) {
	var resp struct {
		Powerups []Powerup `json:"powerups"`
	}
	if err := c.do(ctx, http.MethodGet, "/powerups", nil, auth{bearer: token}, &resp); err != nil {
		return nil, err
	}
	return resp.Powerups, nil
}

// DescribePowerup fetches a single catalog entry.
func (c *Client) DescribePowerup(ctx context.Context, token, kind string) (Powerup, error) {
	path := fmt.Sprintf("/powerups/%s", url.PathEscape(kind))
	var p Powerup
	if err := c.do(ctx, http.MethodGet, path, nil, auth{bearer: token}, &p); err != nil {
		return Powerup{}, err
	}
	return p, nil
}

// UseResult reports the outcome of a powerup use.
type UseResult struct {
	Kind         string `json:"kind"`
	Message      string `json:"message"`
	EffectID     string `json:"effect_id"`
	UsesLeft     int    `json:"uses_left"`
	PointDelta   int64  `json:"point_delta"`
	GrantedKind  string `json:"granted_kind"`
	TargetTeamID string `json:"target_team_id"`
}

// UsePowerup spends one use of kind. Target names the victim team for
// targeted kinds and is ignored otherwise.
func (c *Client) UsePowerup(ctx context.Context, token, kind, target string) (UseResult, error) {
	path := fmt.Sprintf("/powerups/%s/use", url.PathEscape(kind))
	body := map[string]string{}
	if strings.TrimSpace(target) != "" {
		body["target"] = strings.TrimSpace(target)
	}
	var res UseResult
	if err := c.do(ctx, http.MethodPost, path, body, auth{bearer: token}, &res); err != nil {
		return UseResult{}, err
	}
	return res, nil
}

// Team is a leaderboard entry.
type Team struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int64  `json:"points"`
}

// ActiveShields lists teams currently protected by a shield.
func (c *Client) ActiveShields(ctx context.Context, token string) ([]Team, error) {
	return c.listTeams(ctx, token, "/powerups/shields/active")
}

// VulnerableTeams lists teams that can currently be targeted.
func (c *Client) VulnerableTeams(ctx context.Context, token string) ([]Team, error) {
	return c.listTeams(ctx, token, "/powerups/teams/vulnerable")
}

func (c *Client) listTeams(ctx context.Context, token, path string) ([]Team, error) {
	var resp struct {
		Teams []Team `json:"teams"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, auth{bearer: token}, &resp); err != nil {
		return nil, err
	}
	return resp.Teams, nil
}

// Effect is a live effect involving the caller's team.
type Effect struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	OwnerTeamID   string     `json:"owner_team_id"`
	TargetTeamID  string     `json:"target_team_id"`
	AppliedAt     time.Time  `json:"applied_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
	UntilConsumed bool       `json:"until_consumed"`
	PointDelta    int64      `json:"point_delta"`
	Detail        string     `json:"detail"`
}

// ActiveEffects returns the effects currently touching the caller's team.
func (c *Client) ActiveEffects(ctx context.Context, token string) ([]Effect, error) {
	var resp struct {
		Effects []Effect `json:"effects"`
	}
	if err := c.do(ctx, http.MethodGet, "/effects", nil, auth{bearer: token}, &resp); err != nil {
		return nil, err
	}
	return resp.Effects, nil
}

// GambleActive asks whether teamID has a gamble riding on its next solve.
// It authenticates with the scoring token rather than a team token.
func (c *Client) GambleActive(ctx context.Context, scoringToken, teamID string) (bool, error) {
	path := "/scoring/gamble?team_id=" + url.QueryEscape(teamID)
	var resp struct {
		Active bool `json:"active"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, auth{scoring: scoringToken}, &resp); err != nil {
		return false, err
	}
	return resp.Active, nil
}

// ConsumeGamble settles teamID's pending gamble and reports whether one existed.
func (c *Client) ConsumeGamble(ctx context.Context, scoringToken, teamID string) (bool, error) {
	path := "/scoring/gamble?team_id=" + url.QueryEscape(teamID)
	var resp struct {
		Consumed bool `json:"consumed"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, auth{scoring: scoringToken}, &resp); err != nil {
		return false, err
	}
	return resp.Consumed, nil
}
