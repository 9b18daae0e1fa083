package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ncsync/ncsync/internal/config"
	"github.com/ncsync/ncsync/internal/localstore"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that do not need conf.ini loaded
// before they run.
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles everything a command needs once conf.ini has been
// loaded: the parsed config, the local store it names, and a logger built
// from the effective log level. Created once in PersistentPreRunE.
type CLIContext struct {
	Config     *config.Config
	ConfigPath string
	Store      *localstore.Store
	Logger     *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// mustCLIContext extracts the CLIContext or panics — a programmer error,
// since every RunE reachable without skipConfigAnnotation is guaranteed a
// populated context by PersistentPreRunE.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — command needs skipConfigAnnotation or a config load in RunE")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ncsync",
		Short:         "Bidirectional sync daemon for a Nextcloud-compatible WebDAV server",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to conf.ini (default: $NCSYNC_CONFIG or ./conf.ini)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newRepairCmd())
	cmd.AddCommand(newTriggerCmd())

	return cmd
}

// loadConfig resolves conf.ini, runs the first-run wizard if it is absent,
// and stores the resulting CLIContext in the command's context.
func loadConfig(cmd *cobra.Command) error {
	bootstrapLogger := buildLogger("info")

	path := flagConfigPath
	if path == "" {
		path = config.ResolveConfigPath()
	}

	cfg, err := config.Load(path, bootstrapLogger)
	if err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			return err
		}

		cfg, err = config.RunWizard(path, os.Stdin, os.Stdout, bootstrapLogger)
		if err != nil {
			return err
		}
	}

	logger := buildLogger(cfg.LogLevel)

	store := localstore.New(cfg.LocalRoot)
	if err := store.EnsureMetadataDir(); err != nil {
		return err
	}

	cc := &CLIContext{Config: cfg, ConfigPath: path, Store: store, Logger: logger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger at the given base level, overridden by
// --verbose/--debug/--quiet (CLI flags always win over conf.ini's RUST_LOG).
func buildLogger(baseLevel string) *slog.Logger {
	level := slog.LevelInfo

	switch baseLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
