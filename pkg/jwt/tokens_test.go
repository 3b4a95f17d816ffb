package jwt

import (
	"testing"
	"time"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("team-1", "secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	claims, err := Parse(token, "secret")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.TeamID != "team-1" || claims.Issuer != "pwnarena" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("team-1", "secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	if _, err := Parse(token, "other"); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	token, err := GenerateToken("team-1", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	if _, err := Parse(token, "secret"); err == nil {
		t.Fatalf("expected expiry failure")
	}
}

func TestParseRequiresTeam(t *testing.T) {
	token, err := GenerateToken("", "secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	if _, err := Parse(token, "secret"); err == nil {
		t.Fatalf("expected missing team failure")
	}
}
