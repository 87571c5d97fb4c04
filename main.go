package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"telegram-group-reply-bot/bot"
	"telegram-group-reply-bot/directory"
	"telegram-group-reply-bot/storage"

	"github.com/joho/godotenv"
)

func main() {
	// Parse command-line flags
	verbose := flag.Bool("v", false, "Enable verbose logging (LevelInfo)")
	veryVerbose := flag.Bool("vv", false, "Enable very verbose logging (LevelDebug)")
	flag.Parse()

	// Set up logging
	setLogLevel(*verbose, *veryVerbose)

	slog.Debug("main: Command-line flags parsed", "verbose", *verbose, "very_verbose", *veryVerbose)

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		slog.Warn("main: Failed to load .env file", "error", err)
	}

	// Get configuration from environment
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		slog.Error("main: TELEGRAM_BOT_TOKEN environment variable is required")
		os.Exit(1)
	}

	admins, err := parseAdmins(os.Getenv("ADMINS"))
	if err != nil {
		slog.Error("main: Failed to parse ADMINS environment variable", "error", err)
		os.Exit(1)
	}
	if len(admins) == 0 {
		slog.Warn("main: No administrators configured, all management commands will be rejected")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "data.sqlite"
		slog.Debug("main: Using default database path", "path", dbPath)
	} else {
		slog.Debug("main: Using custom database path", "path", dbPath)
	}

	// Initialize storage
	slog.Debug("main: Initializing storage", "db_path", dbPath)
	db, err := storage.Open(dbPath)
	if err != nil {
		slog.Error("main: Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Debug("main: Storage initialized successfully")

	dir := directory.New(db)

	// Initialize bot
	slog.Debug("main: Initializing bot")
	b, err := bot.New(token, dir, admins)
	if err != nil {
		slog.Error("main: Failed to initialize bot", "error", err)
		os.Exit(1)
	}
	slog.Debug("main: Bot initialized successfully")

	// Start bot
	slog.Info("main: Starting bot...")
	if err := b.Start(); err != nil {
		slog.Error("main: Failed to start bot", "error", err)
		os.Exit(1)
	}
	slog.Info("main: Bot started successfully")

	// Wait for interrupt signal
	slog.Debug("main: Bot is running, waiting for interrupt signal")
	select {}
}

// parseAdmins reads the administrator user ids from a JSON array, e.g.
// ADMINS='[123456789, 987654321]'.
func parseAdmins(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}

	var admins []int64
	if err := json.Unmarshal([]byte(raw), &admins); err != nil {
		return nil, err
	}
	return admins, nil
}

// setLogLevel configures the logging level based on the provided flags
func setLogLevel(verbose, veryVerbose bool) {
	// Determine logging level based on flags
	logLevel := slog.LevelWarn // Default level
	if veryVerbose {
		logLevel = slog.LevelDebug
	} else if verbose {
		logLevel = slog.LevelInfo
	}

	// Configure structured logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Debug("main: Log level set to", "level", logLevel.String())
}
