package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"DatopiaChat/internal/chat"
	"DatopiaChat/internal/config"
)

func main() {
	// Optional .env, the same variables the DATOPIA_* overrides read.
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "datopiachat.toml", "Path to TOML config file")

	var flags config.Config
	flag.StringVar(&flags.APIBaseURL, "api-url", "", "Chat backend base URL")
	flag.StringVar(&flags.SessionID, "session-id", "", "Open existing session by ID")
	flag.StringVar(&flags.DBPath, "db", "", "SQLite transcript store path")
	flag.StringVar(&flags.CredentialsPath, "credentials", "", "Credentials file holding access_token")
	flag.StringVar(&flags.CreditFeedURL, "credit-feed", "", "WebSocket credit feed URL")
	flag.StringVar(&flags.LogDir, "log-dir", "", "Directory for rotated logs")
	flag.BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags win over file and environment.
	if flags.APIBaseURL != "" {
		cfg.APIBaseURL = flags.APIBaseURL
	}
	if flags.DBPath != "" {
		cfg.DBPath = flags.DBPath
	}
	if flags.CredentialsPath != "" {
		cfg.CredentialsPath = flags.CredentialsPath
	}
	if flags.CreditFeedURL != "" {
		cfg.CreditFeedURL = flags.CreditFeedURL
	}
	if flags.LogDir != "" {
		cfg.LogDir = flags.LogDir
	}
	if flags.Debug {
		cfg.Debug = true
	}
	cfg.SessionID = flags.SessionID

	ctx := context.Background()

	app, err := chat.NewApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
