package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type stateView struct {
	UserID    string            `json:"userId"`
	Step      string            `json:"step"`
	Data      map[string]string `json:"data"`
	Version   int64             `json:"version"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty"`
}

func newStateCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset a user's conversation",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <user-id>",
		Short: "Show the stored conversation state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.services(cmd)
			if err != nil {
				return err
			}
			state, err := svc.States.Load(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}
			view := stateView{
				UserID:    state.UserID,
				Step:      string(state.Step),
				Data:      state.Data,
				Version:   state.Version,
				UpdatedAt: state.UpdatedAt,
			}
			return rt.print(cmd.OutOrStdout(), view, func(w io.Writer) {
				fmt.Fprintf(w, "user:    %s\nstep:    %s\nversion: %d\n", view.UserID, view.Step, view.Version)
				keys := make([]string, 0, len(view.Data))
				for k := range view.Data {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(w, "  %s = %s\n", k, view.Data[k])
				}
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <user-id>",
		Short: "Send a user's conversation back to the menu",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.services(cmd)
			if err != nil {
				return err
			}
			userID := strings.TrimSpace(args[0])
			state, err := svc.States.Load(cmd.Context(), userID)
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}
			if err := svc.States.Save(cmd.Context(), state.Reset()); err != nil {
				return fmt.Errorf("save state: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", userID)
			return nil
		},
	})

	return cmd
}
