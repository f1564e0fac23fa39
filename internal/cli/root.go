// Package cli implements the petstock command line.
package cli

import (
	stderrors "errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/petstock/internal/app"
	"github.com/kimhsiao/petstock/internal/config"
	"github.com/kimhsiao/petstock/internal/docstore"
	"github.com/kimhsiao/petstock/internal/errors"
	"github.com/kimhsiao/petstock/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Offline    bool
	Verbose    bool
	Format     string // "json" | "text"

	// store replaces the configured remote backend.
	store docstore.Store
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the petstock CLI.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(version, &RootOptions{})
}

func newRootCommand(version string, opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "petstock",
		Short:   "PetStock - offline-first inventory and appointments",
		Long:    "Manage the pet shop inventory and appointments. Changes made offline are queued and replayed in order once the remote store is reachable.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, "invalid format "+opts.Format+": must be text or json")
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.Offline, "offline", false, "work offline and queue every change")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at the configured level instead of WARN")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewProductCommand(opts))
	cmd.AddCommand(NewMovementsCommand(opts))
	cmd.AddCommand(NewAppointmentCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(version string, args []string, stdout, stderr io.Writer) int {
	return execute(version, &RootOptions{}, args, stdout, stderr)
}

func execute(version string, opts *RootOptions, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(version, opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.Execute(); err != nil {
		var exitErr *ExitError
		var appErr *errors.AppError
		if !stderrors.As(err, &exitErr) && !stderrors.As(err, &appErr) {
			// argument and required-flag errors from cobra
			err = WrapExitError(ExitCommandError, "invalid command", err)
		}
		f := &OutputFormatter{Format: opts.Format, Writer: stdout, ErrWriter: stderr}
		f.Error(err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// open loads the configuration and the local session. Background work is
// not started; the caller closes the returned App.
func (o *RootOptions) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level := logging.LevelWarn
	if o.Verbose {
		level = logging.ParseLevel(cfg.LogLevel)
	}
	logging.SetGlobal(logging.New(cmd.ErrOrStderr(), level))

	var appOpts []app.Option
	if o.store != nil {
		appOpts = append(appOpts, app.WithStore(o.store))
	}
	a, err := app.New(cmd.Context(), cfg, appOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open local storage", err)
	}
	if o.Offline {
		a.Monitor.SetManualOffline(true)
	}
	if err := a.StartSession(cmd.Context()); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr()}
}

// report writes the result of a write operation. A failed remote write whose
// change was queued still succeeds with a warning.
func (o *RootOptions) report(cmd *cobra.Command, data interface{}, err error, text func(w io.Writer)) error {
	f := o.formatter(cmd)
	switch {
	case err == nil:
		return f.Success(data, text)
	case errors.Is(err, errors.ErrRemoteWrite) && data != nil:
		return f.Warn(data, "remote write failed, change queued for the next sync: "+err.Error(), text)
	case errors.Is(err, errors.ErrInvalid):
		return WrapExitError(ExitCommandError, "invalid input", err)
	default:
		return err
	}
}

// reportRead writes the result of a read. Data served from the cache after a
// failed remote read succeeds with a warning.
func (o *RootOptions) reportRead(cmd *cobra.Command, data interface{}, err error, text func(w io.Writer)) error {
	f := o.formatter(cmd)
	if err != nil {
		return f.Warn(data, "remote read failed, showing cached data: "+err.Error(), text)
	}
	return f.Success(data, text)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
