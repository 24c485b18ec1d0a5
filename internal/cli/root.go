// Package cli is the guras command tree.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/silwalsubin/guras-sub000/internal/config"
	"github.com/silwalsubin/guras-sub000/internal/logging"
	"github.com/silwalsubin/guras-sub000/internal/services"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DataDir    string
	Backend    string
	Verbose    bool
	Format     string // "json" | "text"
}

// Version is reported by --version.
var Version = "dev"

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the guras CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "guras",
		Short: "Offline-first meditation tracker",
		Long: `Record meditation sessions and program days on this device, follow
streaks and achievements, and sync the outbox when a remote is reachable.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "override the data directory")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "override the storage backend (sqlite|bolt|memory)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRecordCommand(opts))
	cmd.AddCommand(NewProgramCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewAchievementsCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig loads the config file and applies flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// session is one opened tracker plus everything to release with it.
type session struct {
	svc    *services.TrackerService
	cfg    *config.Config
	out    *OutputFormatter
	closer io.Closer // log file, if any
}

func (s *session) Close() error {
	err := s.svc.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// open loads config, builds the logger and opens the tracker.
func (o *RootOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	if o.Verbose {
		level = logging.LevelDebug
	}
	var (
		logOut io.Writer = cmd.ErrOrStderr()
		closer io.Closer
	)
	if cfg.Log.File != "" {
		w := logging.NewFileWriter(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
		logOut, closer = w, w
	}

	svcOpts, err := services.OptionsFromConfig(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	svcOpts.Logger = logging.New(logOut, level)

	svc, err := services.Open(svcOpts)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, WrapExitError(ExitCommandError, "failed to open tracker", err)
	}
	return &session{svc: svc, cfg: cfg, out: o.formatter(cmd), closer: closer}, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
