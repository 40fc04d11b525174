package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/concord/internal/cache"
	"github.com/roach88/concord/internal/config"
	"github.com/roach88/concord/internal/engine"
	"github.com/roach88/concord/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Config   string // CUE configuration file; defaults apply when empty
	Database string // overrides the configured database
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the concord CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "concord",
		Short: "concord - deterministic room state resolution",
		Long: `Verify, authorize and resolve the state of federated rooms.

Events are imported into a SQLite store, checked against their signatures
and auth events, and resolved from the room's forward extremities. Every
resolution is recorded and can be replayed.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logs on stderr)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to a CUE configuration file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the SQLite database (overrides config)")

	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// loadConfig reads the configuration file, or the defaults without one.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.Config == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.Load(o.Config)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	return cfg, nil
}

// session is an open store with an engine over it.
type session struct {
	cfg    *config.Config
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

func (s *session) Close() error {
	return s.store.Close()
}

// open loads the configuration and opens an engine on path, or on the
// configured database when path is empty.
func (o *RootOptions) open(ctx context.Context, cmd *cobra.Command, path string) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = cfg.Database
	}
	logger := cfg.Logger(cmd.ErrOrStderr(), o.Verbose)

	c, err := cache.New(cfg.CacheConfig())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid cache configuration", err)
	}

	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	eng, err := engine.New(ctx, st, cfg.KeyRing(),
		engine.WithLogger(logger),
		engine.WithWorkers(cfg.Workers),
		engine.WithCache(c),
		engine.WithLimits(cfg.StateLimits()),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}

	logger.Debug("session opened", "database", path, "workers", cfg.Workers)
	return &session{cfg: cfg, store: st, engine: eng, logger: logger}, nil
}
