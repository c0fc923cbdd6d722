package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Macxim/secondself/internal/api"
	"github.com/Macxim/secondself/internal/bot"
	"github.com/Macxim/secondself/internal/funnel"
	"github.com/Macxim/secondself/internal/genai"
	"github.com/Macxim/secondself/internal/lockfile"
	"github.com/Macxim/secondself/internal/messaging"
	"github.com/Macxim/secondself/internal/messenger"
	"github.com/Macxim/secondself/internal/scheduler"
	"github.com/Macxim/secondself/internal/store"
	"github.com/Macxim/secondself/internal/twiliosms"
	"github.com/Macxim/secondself/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for secondself state data
	DefaultStateDir = "/var/lib/secondself"
	// DefaultSnapshotFileName is the default flow snapshot filename
	DefaultSnapshotFileName = "flows.json"
	// DefaultStyleFileName is the default style profile filename
	DefaultStyleFileName = "user-style.json"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("secondself failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("secondself exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	SnapshotDSN      string
	StylePath        string
	OpenAIKey        string
	APIAddr          string
	FollowUpSchedule string
	PageAccessToken  string
	VerifyToken      string
	BotEnabled       bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	snapshotDSN      *string
	stylePath        *string
	openaiKey        *string
	apiAddr          *string
	followUpSchedule *string
	botEnabled       bool
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
		StateDir:         util.EnvOrDefault("SECONDSELF_STATE_DIR", DefaultStateDir),
		SnapshotDSN:      os.Getenv("DATABASE_URL"),
		StylePath:        os.Getenv("STYLE_PROFILE_PATH"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		APIAddr:          os.Getenv("API_ADDR"),
		FollowUpSchedule: os.Getenv("FOLLOWUP_SCHEDULE"),
		PageAccessToken:  os.Getenv("FACEBOOK_PAGE_ACCESS_TOKEN"),
		VerifyToken:      os.Getenv("FACEBOOK_VERIFY_TOKEN"),
		BotEnabled:       util.ParseBoolEnv("BOT_ENABLED", true),
	}

	// With no database URL, flows snapshot to a JSON file in the state directory.
	if config.SnapshotDSN == "" {
		config.SnapshotDSN = filepath.Join(config.StateDir, DefaultSnapshotFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to file snapshot", "path", config.SnapshotDSN)
	}
	if config.StylePath == "" {
		config.StylePath = filepath.Join(config.StateDir, DefaultStyleFileName)
	}

	slog.Debug("environment variables loaded",
		"SECONDSELF_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"FACEBOOK_PAGE_ACCESS_TOKEN_SET", config.PageAccessToken != "",
		"API_ADDR", config.APIAddr,
		"FOLLOWUP_SCHEDULE", config.FollowUpSchedule,
		"BOT_ENABLED", config.BotEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for secondself data (overrides $SECONDSELF_STATE_DIR)"),
		snapshotDSN:      flag.String("db-dsn", config.SnapshotDSN, "flow snapshot DSN: JSON path, SQLite path, or Postgres URL (overrides $DATABASE_URL)"),
		stylePath:        flag.String("style-path", config.StylePath, "style profile path (overrides $STYLE_PROFILE_PATH)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		followUpSchedule: flag.String("followup-schedule", config.FollowUpSchedule, "cron expression for the follow-up sweep (overrides $FOLLOWUP_SCHEDULE)"),
		botEnabled:       config.BotEnabled,
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.snapshotDSN != "",
		"stylePath", *flags.stylePath,
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"followUpSchedule", *flags.followUpSchedule)

	return flags
}

// buildSnapshotter selects the snapshot backend from the DSN shape.
func buildSnapshotter(dsn string) (store.Snapshotter, error) {
	switch store.DetectDSNType(dsn) {
	case "postgres":
		slog.Info("Using Postgres snapshot backend")
		return store.NewPostgresSnapshotter(store.WithPostgresDSN(dsn))
	case "sqlite":
		slog.Info("Using SQLite snapshot backend", "path", dsn)
		return store.NewSQLiteSnapshotter(store.WithSQLiteDSN(dsn))
	default:
		slog.Info("Using JSON file snapshot backend", "path", dsn)
		return store.NewFileSnapshotter(store.WithSnapshotPath(dsn))
	}
}

// buildMessagingService picks the delivery channel from available credentials:
// Facebook Messenger when a page token is configured, Twilio SMS otherwise.
func buildMessagingService(verifyToken string) (messaging.Service, *messenger.Client, error) {
	if os.Getenv("FACEBOOK_PAGE_ACCESS_TOKEN") != "" {
		client, err := messenger.NewClient()
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using Facebook Messenger delivery channel")
		return messaging.NewMessengerService(client, verifyToken), client, nil
	}

	client, err := twiliosms.NewClient()
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Using Twilio SMS delivery channel")
	return messaging.NewTwilioService(client), nil, nil
}

// resolveWebhook returns the inbound webhook handler for the active channel.
func resolveWebhook(svc messaging.Service) http.HandlerFunc {
	switch s := svc.(type) {
	case *messaging.MessengerService:
		return s.WebhookHandler
	case *messaging.TwilioService:
		return s.WebhookHandler
	default:
		return nil
	}
}

func run(flags Flags) error {
	// One instance per state directory: a second sweeper would double-send
	// follow-ups against the same snapshot.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	snap, err := buildSnapshotter(*flags.snapshotDSN)
	if err != nil {
		return err
	}
	flowStore, err := store.NewFlowStore(snap)
	if err != nil {
		return err
	}
	defer flowStore.Close()

	manager := funnel.NewManager(flowStore)

	msgService, messengerClient, err := buildMessagingService(os.Getenv("FACEBOOK_VERIFY_TOKEN"))
	if err != nil {
		return err
	}
	defer msgService.Stop()

	sweeper := funnel.NewSweeper(manager, msgService)

	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	ai, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	controller := bot.NewController()
	controller.SetEnabled(flags.botEnabled)
	styles := bot.NewStyleManager(*flags.stylePath, ai)
	processor := bot.NewProcessor(manager, controller, styles, ai, msgService)
	if messengerClient != nil {
		processor.SetNameResolver(func(ctx context.Context, userID string) (string, error) {
			profile, err := messengerClient.GetUserProfile(ctx, userID)
			if err != nil {
				return "", err
			}
			return profile.FirstName, nil
		})
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.followUpSchedule != "" {
		apiOpts = append(apiOpts, api.WithFollowUpSchedule(*flags.followUpSchedule))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := msgService.Start(ctx); err != nil {
		return err
	}
	go processor.Run(ctx, msgService.Responses())

	server := api.NewServer(manager, sweeper, msgService, processor, controller, styles, ai, sched, resolveWebhook(msgService), apiOpts...)

	slog.Info("Bootstrapping secondself", "state_dir", *flags.stateDir, "api_addr", *flags.apiAddr)
	return server.Run(ctx)
}
