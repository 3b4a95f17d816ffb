package config

import (
	"testing"
	"time"
)

func TestLoadEconomyConfigDefaults(t *testing.T) {
	cfg := LoadEconomyConfig()
	if cfg != DefaultEconomy() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadEconomyConfigOverrides(t *testing.T) {
	t.Setenv("LUCKY_DRAW_CHANCE", "0.5")
	t.Setenv("SHIELD_DURATION_MIN", "30")
	t.Setenv("SIPHON_DURATION", "90s")
	t.Setenv("SABOTAGE_POINTS", "not-a-number")

	cfg := LoadEconomyConfig()
	if cfg.LuckyDrawChance != 0.5 {
		t.Fatalf("expected chance 0.5, got %v", cfg.LuckyDrawChance)
	}
	if cfg.ShieldDuration != 30*time.Minute {
		t.Fatalf("expected 30m shield, got %v", cfg.ShieldDuration)
	}
	if cfg.SiphonDuration != 90*time.Second {
		t.Fatalf("expected 90s siphon, got %v", cfg.SiphonDuration)
	}
	if cfg.SabotagePoints != 500 {
		t.Fatalf("expected fallback on invalid value, got %d", cfg.SabotagePoints)
	}
}

func TestBlankValuesFallBack(t *testing.T) {
	t.Setenv("PWNARENA_TEST_INT", "  ")
	t.Setenv("PWNARENA_TEST_BOOL", " true ")
	if got := GetInt("PWNARENA_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback for blank value, got %d", got)
	}
	if !GetBool("PWNARENA_TEST_BOOL", false) {
		t.Fatalf("expected padded bool to parse")
	}
}
