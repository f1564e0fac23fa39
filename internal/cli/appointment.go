package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/petstock/internal/models"
)

// AppointmentOptions holds flags for the appointment subcommands.
type AppointmentOptions struct {
	*RootOptions
	Input  models.AppointmentInput
	Date   string
	Time   string
	Reason string
	Status string
}

// NewAppointmentCommand creates the appointment command and its subcommands.
func NewAppointmentCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "appointment",
		Aliases: []string{"appt"},
		Short:   "Book and manage appointments",
	}
	cmd.AddCommand(newAppointmentCreateCommand(rootOpts))
	cmd.AddCommand(newAppointmentUpdateCommand(rootOpts))
	cmd.AddCommand(newAppointmentCancelCommand(rootOpts))
	cmd.AddCommand(newAppointmentListCommand(rootOpts))
	cmd.AddCommand(newSpecialistsCommand(rootOpts))
	cmd.AddCommand(newPetsCommand(rootOpts))
	return cmd
}

func newAppointmentCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppointmentOptions{RootOptions: rootOpts}
	in := &opts.Input

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Book an appointment",
		Long: `Book an appointment with a specialist. Offline, the booking is kept
under a temporary id and created remotely on the next sync.

Examples:
  petstock appointment create --specialist S1 --pet P1 --date 2026-11-02 --time 10:30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			appt, err := a.Service.CreateAppointment(cmd.Context(), *in)
			if appt == nil {
				return opts.report(cmd, nil, err, nil)
			}
			return opts.report(cmd, appt, err, func(w io.Writer) {
				fmt.Fprintf(w, "Booked %s on %s at %s\n", appt.ID, appt.Date, appt.Time)
			})
		},
	}

	cmd.Flags().StringVar(&in.UserID, "user", "", "user id, defaults to the configured user")
	cmd.Flags().StringVar(&in.SpecialistID, "specialist", "", "specialist id (required)")
	cmd.Flags().StringVar(&in.SpecialistName, "specialist-name", "", "specialist display name")
	cmd.Flags().StringVar(&in.SpecialistSpecialty, "specialty", "", "specialist specialty")
	cmd.Flags().StringVar(&in.PetID, "pet", "", "pet id (required)")
	cmd.Flags().StringVar(&in.PetName, "pet-name", "", "pet display name")
	cmd.Flags().StringVar(&in.Date, "date", "", "date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&in.Time, "time", "", "time, HH:MM (required)")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "reason for the visit")
	for _, name := range []string{"specialist", "pet", "date", "time"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func newAppointmentUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppointmentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change an appointment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch models.AppointmentPatch
			flags := cmd.Flags()
			if flags.Changed("date") {
				patch.Date = &opts.Date
			}
			if flags.Changed("time") {
				patch.Time = &opts.Time
			}
			if flags.Changed("reason") {
				patch.Reason = &opts.Reason
			}
			if flags.Changed("status") {
				patch.Status = &opts.Status
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			appt, err := a.Service.UpdateAppointment(cmd.Context(), args[0], patch)
			if appt == nil {
				return opts.report(cmd, nil, err, nil)
			}
			return opts.report(cmd, appt, err, func(w io.Writer) {
				fmt.Fprintf(w, "Updated %s: %s %s (%s)\n", appt.ID, appt.Date, appt.Time, appt.Status)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "new date")
	cmd.Flags().StringVar(&opts.Time, "time", "", "new time")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "new reason")
	cmd.Flags().StringVar(&opts.Status, "status", "", "new status")

	return cmd
}

func newAppointmentCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an appointment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.Service.CancelAppointment(cmd.Context(), args[0])
			return rootOpts.report(cmd, map[string]string{"cancelled": args[0]}, err, func(w io.Writer) {
				fmt.Fprintf(w, "Cancelled %s\n", args[0])
			})
		},
	}
}

func newAppointmentListCommand(rootOpts *RootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List appointments, including offline bookings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.Service.Appointments(cmd.Context(), userID)
			return rootOpts.reportRead(cmd, list, err, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tDATE\tTIME\tPET\tSPECIALIST\tSTATUS\t")
				for _, appt := range list {
					marker := ""
					if appt.Offline {
						marker = "offline"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						appt.ID, appt.Date, appt.Time, appt.PetName, appt.SpecialistName, appt.Status, marker)
				}
				tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id, defaults to the configured user")
	return cmd
}

func newSpecialistsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "specialists",
		Short: "List bookable specialists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.Service.Specialists(cmd.Context())
			return rootOpts.reportRead(cmd, list, err, func(w io.Writer) {
				for _, s := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Name, s.Specialty)
				}
			})
		},
	}
}

func newPetsCommand(rootOpts *RootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "pets",
		Short: "List the pets of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.Service.Pets(cmd.Context(), userID)
			return rootOpts.reportRead(cmd, list, err, func(w io.Writer) {
				for _, p := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, p.Type)
				}
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id, defaults to the configured user")
	return cmd
}
