package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"booking-assistant/internal/availability"
	"booking-assistant/internal/config"
	"booking-assistant/internal/domain"
)

type slotView struct {
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"durationMinutes"`
	Label           string    `json:"label"`
}

func newSlotsCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List the next free slots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			period, _ := cmd.Flags().GetString("period")
			limit, _ := cmd.Flags().GetInt("limit")

			p := domain.Period(period)
			switch p {
			case domain.PeriodAny, domain.PeriodMorning, domain.PeriodAfternoon:
			default:
				return fmt.Errorf("unknown period %q", period)
			}

			svc, err := rt.services(cmd)
			if err != nil {
				return err
			}
			slots, err := svc.Slots.ListSlots(cmd.Context(), availability.Query{
				DaysAhead:       rt.v.GetInt(config.KeyDaysAhead),
				DurationMinutes: rt.v.GetInt(config.KeySlotDuration),
				Period:          p,
			}, limit)
			if err != nil {
				return fmt.Errorf("list slots: %w", err)
			}

			views := make([]slotView, 0, len(slots))
			for _, s := range slots {
				views = append(views, slotView{Start: s.Start, DurationMinutes: s.DurationMinutes, Label: s.Label})
			}
			return rt.print(cmd.OutOrStdout(), views, func(w io.Writer) {
				if len(views) == 0 {
					fmt.Fprintln(w, "no free slots")
					return
				}
				for i, v := range views {
					fmt.Fprintf(w, "%d. %s\n", i+1, v.Label)
				}
			})
		},
	}

	cmd.Flags().String("period", string(domain.PeriodAny), "Period: any, morning or afternoon")
	cmd.Flags().Int("limit", 10, "Maximum number of slots")
	cmd.Flags().Int("days", 0, "Days ahead to search (default DAYS_AHEAD)")
	cmd.Flags().Int("duration", 0, "Slot duration in minutes (default SLOT_DURATION_MINUTES)")
	_ = rt.v.BindPFlag(config.KeyDaysAhead, cmd.Flags().Lookup("days"))
	_ = rt.v.BindPFlag(config.KeySlotDuration, cmd.Flags().Lookup("duration"))
	return cmd
}
