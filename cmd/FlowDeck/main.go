package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/FlowDeckHQ/FlowDeck/internal/api"
	"github.com/FlowDeckHQ/FlowDeck/internal/design"
	"github.com/FlowDeckHQ/FlowDeck/internal/flow"
	"github.com/FlowDeckHQ/FlowDeck/internal/genai"
	"github.com/FlowDeckHQ/FlowDeck/internal/lockfile"
	"github.com/FlowDeckHQ/FlowDeck/internal/scheduler"
	"github.com/FlowDeckHQ/FlowDeck/internal/store"
	"github.com/FlowDeckHQ/FlowDeck/internal/tts"
	"github.com/FlowDeckHQ/FlowDeck/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for FlowDeck state data
	DefaultStateDir = "/var/lib/flowdeck"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "flowdeck.db"
	// DefaultJobPollInterval is how often the job runner claims due jobs
	DefaultJobPollInterval = 5 * time.Second
	// DefaultStaleJobRecoveryInterval is how often stale running jobs are requeued
	DefaultStaleJobRecoveryInterval = 5 * time.Minute
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("FlowDeck failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("FlowDeck exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	StateDir       string
	OpenAIKey      string
	DesignAPIURL   string
	DesignAPIToken string
	APIAddr        string
	SuspendTimeout time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	openaiKey      *string
	designAPIURL   *string
	designAPIToken *string
	apiAddr        *string
	suspendTimeout *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("FLOWDECK_STATE_DIR"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		DesignAPIURL:   os.Getenv("DESIGN_API_URL"),
		DesignAPIToken: os.Getenv("DESIGN_API_TOKEN"),
		APIAddr:        os.Getenv("API_ADDR"),
		SuspendTimeout: util.ParseDurationEnv("SUSPEND_TIMEOUT", flow.DefaultSuspendTimeout),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No FLOWDECK_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"FLOWDECK_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"DESIGN_API_URL_SET", config.DesignAPIURL != "",
		"API_ADDR", config.APIAddr,
		"SUSPEND_TIMEOUT", config.SuspendTimeout)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for FlowDeck data (overrides $FLOWDECK_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN, PostgreSQL URL or SQLite file path (overrides $DATABASE_URL)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		designAPIURL:   flag.String("design-api-url", config.DesignAPIURL, "design provider base URL (overrides $DESIGN_API_URL)"),
		designAPIToken: flag.String("design-api-token", config.DesignAPIToken, "design provider bearer token (overrides $DESIGN_API_TOKEN)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		suspendTimeout: flag.Duration("suspend-timeout", config.SuspendTimeout, "default suspension timeout (overrides $SUSPEND_TIMEOUT)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"designAPIURL", *flags.designAPIURL,
		"apiAddr", *flags.apiAddr,
		"suspendTimeout", *flags.suspendTimeout)

	return flags
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	// Single-instance guard: two processes sharing a state directory would
	// double-fire session timeout jobs.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	engineOpts := buildEngineOptions(flags)
	engine := flow.NewEngine(st, engineOpts...)

	// Durable job runner: executes session timeouts and recovers work that
	// was in flight when a previous process died.
	runner := store.NewJobRunner(st, DefaultJobPollInterval)
	flow.RegisterJobHandlers(runner, engine)
	if err := runner.RecoverStaleJobs(); err != nil {
		slog.Warn("Failed to recover stale jobs at startup", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runner.Run(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddEvery(DefaultStaleJobRecoveryInterval, func() {
		if err := runner.RecoverStaleJobs(); err != nil {
			slog.Warn("Periodic stale job recovery failed", "error", err)
		}
	}); err != nil {
		return err
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(engine, st, apiOpts...)

	slog.Info("Bootstrapping FlowDeck with configured modules",
		"state_dir", *flags.stateDir, "dsn_type", store.DetectDSNType(*flags.dbDSN), "api_addr", *flags.apiAddr)
	return server.Run(ctx)
}

// openStore selects the storage backend from the DSN.
func openStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}

	// Ensure the directory for a file-based database exists.
	if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
		return nil, err
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildEngineOptions constructs engine configuration options from flags.
// Providers without credentials are left unconfigured; the matching step
// kinds then degrade to their fallback behavior.
func buildEngineOptions(flags Flags) []flow.Option {
	opts := []flow.Option{flow.WithDefaultTimeout(*flags.suspendTimeout)}

	if *flags.openaiKey != "" {
		aiClient, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Warn("Failed to create GenAI client", "error", err)
		} else {
			opts = append(opts, flow.WithAIProvider(aiClient))
		}

		ttsClient, err := tts.NewClient(tts.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Warn("Failed to create TTS client", "error", err)
		} else {
			opts = append(opts, flow.WithSynthesizer(ttsClient))
		}
	} else {
		slog.Warn("No OpenAI API key configured; AI and dynamic audio steps will use fallbacks")
	}

	if *flags.designAPIURL != "" {
		designClient, err := design.NewClient(
			design.WithBaseURL(*flags.designAPIURL),
			design.WithToken(*flags.designAPIToken),
		)
		if err != nil {
			slog.Warn("Failed to create design client", "error", err)
		} else {
			opts = append(opts, flow.WithDesignProvider(designClient))
		}
	}

	return opts
}
