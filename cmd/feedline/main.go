package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"feedline/internal/config"
	"feedline/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// cli carries the global flags and what PersistentPreRunE builds from them.
type cli struct {
	configPath string
	verbose    bool
	envFile    string

	logger *zap.Logger
	cfg    *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "feedline",
		Short: "feedline - a terminal client for the social feed",
		Long: `feedline signs in to the social feed backend, keeps the session across
runs and lets you read and react to posts, comments and notifications.

Run "feedline browse" for the interactive feed, or "feedline serve-mock"
to start a local development backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
			logging.CloseAll()
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file (default ~/.feedline/config.yaml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Dotenv file loaded before the config")

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.profileCmd(),
		c.statusCmd(),
		c.feedCmd(),
		c.postCmd(),
		c.reactCmd(true),
		c.reactCmd(false),
		c.commentsCmd(),
		c.followCmd(true),
		c.followCmd(false),
		c.peopleCmd(),
		c.searchCmd(),
		c.notificationsCmd(),
		c.browseCmd(),
		c.serveMockCmd(),
	)
	return root
}

// setup loads .env and the config file, then builds the loggers.
func (c *cli) setup() error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", c.envFile, err)
		}
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if c.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger

	path := c.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.logger.Debug("Config loaded",
		zap.String("path", path),
		zap.String("api", cfg.API.BaseURL),
		zap.String("session_backend", cfg.Session.Backend))

	opts := cfg.Logging.Options()
	if c.verbose {
		opts.DebugMode = true
		opts.Level = "debug"
	}
	if err := logging.Initialize(cfg.StateDir, opts); err != nil {
		c.logger.Warn("File logging disabled", zap.Error(err))
	}
	logging.Boot("feedline starting (api=%s, backend=%s)", cfg.API.BaseURL, cfg.Session.Backend)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
