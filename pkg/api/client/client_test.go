package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUsePowerupSendsTargetAndToken(t *testing.T) {
	var gotPath, gotAuth, gotTarget string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Target string `json:"target"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotTarget = body.Target
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind":"siphon","message":"Siphoned 2 points from team bravo","uses_left":0,"point_delta":2,"target_team_id":"b"}`))
	}))
	defer srv.Close()

	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	res, err := cli.UsePowerup(context.Background(), "tok", "siphon", " bravo ")
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if gotPath != "/powerups/siphon/use" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotTarget != "bravo" {
		t.Fatalf("expected trimmed target, got %q", gotTarget)
	}
	if res.PointDelta != 2 || res.TargetTeamID != "b" || res.UsesLeft != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAPIErrorCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"target team is shielded","code":"target_shielded"}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	_, err := cli.UsePowerup(context.Background(), "tok", "airstrike", "bravo")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Code != "target_shielded" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestListPowerupsAndEffects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/powerups", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"powerups":[{"kind":"shield","cost":0,"max_uses":1,"uses_left":1,"requires_target":false}]}`))
	})
	mux.HandleFunc("/effects", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"effects":[{"id":"e1","kind":"shield","owner_team_id":"a","applied_at":"2026-01-01T00:00:00Z","expires_at":"2026-01-01T00:15:00Z","until_consumed":false,"point_delta":0}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cli, _ := New(srv.URL)
	list, err := cli.ListPowerups(context.Background(), "tok")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Kind != "shield" || list[0].UsesLeft != 1 {
		t.Fatalf("unexpected powerups %+v", list)
	}
	effects, err := cli.ActiveEffects(context.Background(), "tok")
	if err != nil {
		t.Fatalf("effects: %v", err)
	}
	if len(effects) != 1 || effects[0].ExpiresAt == nil {
		t.Fatalf("unexpected effects %+v", effects)
	}
	if got := effects[0].ExpiresAt.Sub(effects[0].AppliedAt); got.Minutes() != 15 {
		t.Fatalf("expected 15 minute shield, got %s", got)
	}
}

func TestGambleUsesScoringToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Scoring-Token") != "score" || r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("team_id") != "a" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"team_id":"a","consumed":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"team_id":"a","active":true}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	active, err := cli.GambleActive(context.Background(), "score", "a")
	if err != nil || !active {
		t.Fatalf("expected active gamble, got %v %v", active, err)
	}
	consumed, err := cli.ConsumeGamble(context.Background(), "score", "a")
	if err != nil || !consumed {
		t.Fatalf("expected consumed gamble, got %v %v", consumed, err)
	}
}

func TestNewNormalisesBaseURL(t *testing.T) {
	cli, err := New("localhost:9000/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if cli.baseURL != "http://localhost:9000" {
		t.Fatalf("unexpected base url %q", cli.baseURL)
	}
}
