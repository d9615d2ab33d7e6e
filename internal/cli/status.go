package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buildloop-io/buildloop/internal/config"
	"github.com/buildloop-io/buildloop/internal/sorter"
	"github.com/buildloop-io/buildloop/pkg/models"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ticket statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws := config.MustWorkspaceFrom(ctx)

			cfg, err := config.Load(ws)
			if err != nil {
				return err
			}
			st, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			f, err := st.Load(ctx)
			if err != nil {
				return err
			}
			if len(f.Tickets) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tickets.")
				return nil
			}

			counts := map[string]int{}
			for _, tk := range f.Tickets {
				counts[tk.Status]++
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d tickets: %d todo, %d in progress, %d done, %d error\n",
				f.TotalTickets, counts[models.StatusTodo], counts[models.StatusInProgress],
				counts[models.StatusDone], counts[models.StatusError])

			for _, tk := range sorter.Sort(f.Tickets) {
				line := fmt.Sprintf("  %-12s %-16s %s", tk.Status, tk.ID, tk.Title)
				if tk.Error != "" {
					line += "  (" + tk.Error + ")"
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	return cmd
}
