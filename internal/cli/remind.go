package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"booking-assistant/internal/config"
	"booking-assistant/internal/usecase"
)

func newRemindCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Run a reminder sweep now",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "confirmations",
		Short: "Ask tomorrow's patients to confirm or cancel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.services(cmd)
			if err != nil {
				return err
			}
			report, err := svc.Reminders.SendConfirmations(cmd.Context())
			if err != nil {
				return err
			}
			return rt.printReport(cmd, report)
		},
	})

	alerts := &cobra.Command{
		Use:   "alerts",
		Short: "Alert the operator about unconfirmed appointments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.services(cmd)
			if err != nil {
				return err
			}
			report, err := svc.Reminders.AlertUnconfirmed(cmd.Context(), rt.v.GetDuration(config.KeyReminderAlertWindow))
			if err != nil {
				return err
			}
			return rt.printReport(cmd, report)
		},
	}
	alerts.Flags().Duration("window", 0, "Look-ahead window (default REMINDER_ALERT_WINDOW)")
	_ = rt.v.BindPFlag(config.KeyReminderAlertWindow, alerts.Flags().Lookup("window"))
	cmd.AddCommand(alerts)

	return cmd
}

func (rt *runtime) printReport(cmd *cobra.Command, report usecase.ReminderReport) error {
	return rt.print(cmd.OutOrStdout(), report, func(w io.Writer) {
		fmt.Fprintf(w, "events=%d sent=%d skipped=%d failed=%d\n", report.Events, report.Sent, report.Skipped, report.Failed)
	})
}
