package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/petstock/internal/models"
	"github.com/kimhsiao/petstock/internal/sync/scheduler"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var retryDead bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes against the remote store",
		Long: `Replay every queued change in order. Changes that fail stay queued,
in their original order, for the next run.

Examples:
  petstock sync
  petstock sync --retry-dead --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if retryDead {
				if n := a.Queue.RetryDeadLetters(); n > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "Requeued %d dead-lettered actions\n", n)
				}
			}

			result, err := a.Scheduler.SyncNow(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "sync failed", err)
			}

			if err := rootOpts.formatter(cmd).Success(result, func(w io.Writer) {
				if result.Skipped {
					fmt.Fprintf(w, "Nothing synced (%s), %d pending\n", result.SkipReason, result.Remaining)
					return
				}
				fmt.Fprintf(w, "Synced %d of %d actions", result.Succeeded+result.Resolved, result.Attempted)
				if result.Failed > 0 {
					fmt.Fprintf(w, ", %d failed", result.Failed)
				}
				if result.DeadLettered > 0 {
					fmt.Fprintf(w, ", %d dead-lettered", result.DeadLettered)
				}
				fmt.Fprintf(w, ", %d pending\n", result.Remaining)
			}); err != nil {
				return err
			}

			if result.Failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d actions failed and stay queued", result.Failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&retryDead, "retry-dead", false, "move dead-lettered actions back to the queue first")
	return cmd
}

// StatusReport is the output of the status command.
type StatusReport struct {
	Scheduler   scheduler.SchedulerStatus `json:"scheduler"`
	Pending     []models.PendingAction    `json:"pending"`
	Failures    []models.ActionFailure    `json:"failures,omitempty"`
	DeadLetters []models.DeadLetter       `json:"deadLetters,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and the pending queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report := StatusReport{
				Scheduler:   a.Scheduler.GetStatus(),
				Pending:     a.Service.PendingActions(),
				Failures:    a.Service.PendingFailures(),
				DeadLetters: a.Queue.DeadLetters(),
			}

			return rootOpts.formatter(cmd).Success(report, func(w io.Writer) {
				online := "offline"
				if report.Scheduler.IsOnline {
					online = "online"
				}
				fmt.Fprintf(w, "Connectivity: %s\n", online)
				fmt.Fprintf(w, "Pending:      %d\n", len(report.Pending))
				fmt.Fprintf(w, "Dead letters: %d\n", len(report.DeadLetters))

				attempts := make(map[string]models.ActionFailure, len(report.Failures))
				for _, f := range report.Failures {
					attempts[f.ActionID] = f
				}
				for i, action := range report.Pending {
					line := fmt.Sprintf("  %d. %s %s", i+1, action.Type, action.DocID)
					if f, ok := attempts[action.ID]; ok {
						line += fmt.Sprintf(" (%d attempts, last: %s)", f.Attempts, f.LastError)
					}
					fmt.Fprintln(w, line)
				}
			})
		},
	}
}
