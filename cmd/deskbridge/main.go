// ABOUTME: Entry point for the deskbridge relay server
// ABOUTME: Bridges web chat widget conversations into Slack channels

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	slackapi "github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/2389/deskbridge/internal/activity"
	"github.com/2389/deskbridge/internal/auth"
	"github.com/2389/deskbridge/internal/cards"
	"github.com/2389/deskbridge/internal/config"
	"github.com/2389/deskbridge/internal/dedupe"
	"github.com/2389/deskbridge/internal/relay"
	"github.com/2389/deskbridge/internal/server"
	"github.com/2389/deskbridge/internal/store"
	"github.com/2389/deskbridge/internal/transport"
	slacktransport "github.com/2389/deskbridge/internal/transport/slack"
	"github.com/2389/deskbridge/internal/transport/webchat"
)

var version = "dev"

const banner = `
     _           _    _          _     _
  __| | ___  ___| | _| |__  _ __(_) __| | __ _  ___
 / _' |/ _ \/ __| |/ / '_ \| '__| |/ _' |/ _' |/ _ \
| (_| |  __/\__ \   <| |_) | |  | | (_| | (_| |  __/
 \__,_|\___||___/_|\_\_.__/|_|  |_|\__,_|\__, |\___|
                                         |___/
`

const (
	defaultDedupeTTL     = 5 * time.Minute
	defaultDedupeMaxSize = 10000
)

// defaultConfigPath returns the path to the deskbridge config file.
// Priority: DESKBRIDGE_CONFIG env var > XDG_CONFIG_HOME/deskbridge/config.yaml > ~/.config/deskbridge/config.yaml
func defaultConfigPath() string {
	if envPath := os.Getenv("DESKBRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "deskbridge", "config.yaml")
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "deskbridge",
		Short:         "Relay server bridging web chat conversations into Slack",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the config file")

	resolve := func() string {
		if configPath != "" {
			return configPath
		}
		return defaultConfigPath()
	}

	cmd.AddCommand(
		newServeCommand(resolve),
		newInitCommand(resolve),
		newTokenCommand(resolve),
		newHealthCommand(resolve),
	)
	return cmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newServeCommand(resolveConfig func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), resolveConfig())
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	if cfg.Slack.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Slack:    ")
		cyan.Println("enabled")
	}
	fmt.Println()

	logger.Info("starting deskbridge",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"slack_enabled", cfg.Slack.Enabled,
	)

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer sqlStore.Close()

	renderer, err := cards.NewTemplateRenderer()
	if err != nil {
		return fmt.Errorf("loading card templates: %w", err)
	}

	issuer := auth.NewIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	verifier := auth.NewVerifier([]byte(cfg.Auth.JWTSecret))

	dedupeTTL := cfg.Bridge.DedupeTTL
	if dedupeTTL == 0 {
		dedupeTTL = defaultDedupeTTL
	}
	dedupeMaxSize := cfg.Bridge.DedupeMaxSize
	if dedupeMaxSize == 0 {
		dedupeMaxSize = defaultDedupeMaxSize
	}
	seen := dedupe.New(dedupeTTL, dedupeMaxSize)
	defer seen.Close()

	// Target channel wiring. With Slack disabled the bridge still serves
	// the widget; starts fail cleanly until an integration is configured.
	var (
		target            transport.Sender = transport.Disabled{Name: "slack"}
		slackEvents       *slacktransport.EventAdapter
		slackInteractions *slacktransport.InteractionAdapter
	)
	if cfg.Slack.Enabled {
		api := slackapi.New(cfg.Slack.BotToken)
		target = slacktransport.New(api, logger)
		slackEvents = slacktransport.NewEventAdapter(cfg.Slack.SigningSecret, cfg.Slack.BotUserID, api)
		slackInteractions = slacktransport.NewInteractionAdapter(cfg.Slack.SigningSecret, cfg.Slack.BotUserID)
	}

	resolver := relay.NewResolver(sqlStore, logger)

	// The hub and the dispatcher reference each other; the handler closure
	// is not invoked until the server accepts connections.
	var dispatcher *relay.Dispatcher
	hub := webchat.NewHub(verifier, func(ctx context.Context, a *activity.Activity) error {
		_, err := dispatcher.Dispatch(ctx, a)
		if err != nil {
			dispatcher.Apologize(ctx, a)
		}
		return err
	}, logger)

	controller := relay.NewController(sqlStore, resolver, renderer, hub, target, logger)
	engine := relay.NewEngine(sqlStore, resolver, renderer, hub, target, controller, logger)
	dispatcher = relay.NewDispatcher(seen, resolver, engine, controller, renderer, sqlStore, hub, target, logger)

	srv := server.New(server.Config{
		HTTPAddr:          cfg.Server.HTTPAddr,
		Issuer:            issuer,
		Hub:               hub,
		Dispatcher:        dispatcher,
		Store:             sqlStore,
		SlackEvents:       slackEvents,
		SlackInteractions: slackInteractions,
		Target:            target,
		Logger:            logger,
	})

	return srv.Run(ctx)
}

func newInitCommand(resolveConfig func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runInit(resolveConfig())
		},
	}
}

func runInit(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	content := fmt.Sprintf(`server:
  http_addr: "0.0.0.0:8080"

database:
  path: "deskbridge.db"

auth:
  jwt_secret: "%s"
  token_ttl: "24h"

bridge:
  dedupe_ttl: "5m"
  dedupe_max_size: 10000

slack:
  enabled: false
  bot_token: "${SLACK_BOT_TOKEN}"
  signing_secret: "${SLACK_SIGNING_SECRET}"
  bot_user_id: ""

logging:
  level: "info"
  format: "text"
`, jwtSecret)

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Created %s\n", configPath)
	fmt.Println("Edit the slack section and run: deskbridge serve")
	return nil
}

func newTokenCommand(resolveConfig func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Mint a widget session token for testing",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runToken(resolveConfig())
		},
	}
}

func runToken(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, session, err := auth.NewIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL).Issue()
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	out, err := json.MarshalIndent(map[string]string{
		"token":          token,
		"userId":         session.UserID,
		"conversationId": session.ConversationID,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func newHealthCommand(resolveConfig func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check bridge server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd.Context(), resolveConfig())
		},
	}
}

func runHealth(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
