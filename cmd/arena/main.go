package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apiclient "github.com/splax/pwnarena/pkg/api/client"
	"golang.org/x/term"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "powerups":
		err = commandPowerups(args)
	case "use":
		err = commandUse(args)
	case "effects":
		err = commandEffects(args)
	case "teams":
		err = commandTeams(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	token := fs.String("token", "", "Team access token (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" {
		fmt.Print("Team token: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = strings.TrimSpace(string(bytes))
	}
	if secret == "" {
		return errors.New("a team token is required")
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := client.ListPowerups(ctx, secret); err != nil {
		return fmt.Errorf("verify token: %w", err)
	}

	cfg.AccessToken = secret
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func commandPowerups(args []string) error {
	fs := flag.NewFlagSet("powerups", flag.ExitOnError)
	kind := fs.String("kind", "", "Show a single powerup")
	fs.Parse(args)

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if strings.TrimSpace(*kind) != "" {
		p, err := client.DescribePowerup(ctx, token, *kind)
		if err != nil {
			return err
		}
		printPowerup(p)
		return nil
	}
	list, err := client.ListPowerups(ctx, token)
	if err != nil {
		return err
	}
	for _, p := range list {
		printPowerup(p)
	}
	return nil
}

func printPowerup(p apiclient.Powerup) {
	target := ""
	if p.RequiresTarget {
		target = "targeted"
	}
	fmt.Printf("%s\t%d/%d\t%s\t%s\n", p.Kind, p.UsesLeft, p.MaxUses, target, p.Description)
}

func commandUse(args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return errors.New("usage: arena use <kind> [--target team]")
	}
	kind := args[0]
	fs := flag.NewFlagSet("use", flag.ExitOnError)
	target := fs.String("target", "", "Target team name")
	fs.Parse(args[1:])

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := client.UsePowerup(ctx, token, kind, *target)
	if err != nil {
		return err
	}
	fmt.Println(res.Message)
	fmt.Printf("uses left: %d\n", res.UsesLeft)
	return nil
}

func commandEffects(args []string) error {
	fs := flag.NewFlagSet("effects", flag.ExitOnError)
	fs.Parse(args)

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	effects, err := client.ActiveEffects(ctx, token)
	if err != nil {
		return err
	}
	for _, e := range effects {
		expires := "until consumed"
		if e.ExpiresAt != nil {
			expires = e.ExpiresAt.Local().Format(time.Kitchen)
		}
		fmt.Printf("%s\t%s\towner=%s\ttarget=%s\t%s\n", e.ID, e.Kind, e.OwnerTeamID, e.TargetTeamID, expires)
	}
	return nil
}

func commandTeams(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: arena teams [shielded|vulnerable]")
	}
	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var teams []apiclient.Team
	switch args[0] {
	case "shielded":
		teams, err = client.ActiveShields(ctx, token)
	case "vulnerable":
		teams, err = client.VulnerableTeams(ctx, token)
	default:
		return fmt.Errorf("unknown teams command: %s", args[0])
	}
	if err != nil {
		return err
	}
	for _, team := range teams {
		fmt.Printf("%s\t%s\t%d\n", team.ID, team.Name, team.Points)
	}
	return nil
}

func authedClient() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, "", errors.New("please login first using 'arena login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: "http://localhost:4000"}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4000"
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "pwnarena", "config.json"), nil
}

func printUsage() {
	fmt.Printf("arena CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	arena login [--token <team-token>] [--api http://localhost:4000]
	arena powerups [--kind <kind>]
	arena use <kind> [--target <team-name>]
	arena effects
	arena teams shielded|vulnerable
	arena version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
