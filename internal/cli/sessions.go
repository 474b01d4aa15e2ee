package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/radresearch/caseagent/pkg/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	Long: `List every session in the sessions directory with its run count,
stored note count, and last update time. Sub-agent sessions appear
alongside the parents they were derived from.`,
	RunE: runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := session.NewStore(cfg.Dirs.Sessions)
	if err != nil {
		return err
	}

	infos, err := store.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	fmt.Fprintln(out, "Sessions:")
	for _, info := range infos {
		fmt.Fprintf(out, "  %s\n", info.SessionID)
		if info.Context != "" {
			fmt.Fprintf(out, "    Context: %s\n", info.Context)
		}
		fmt.Fprintf(out, "    Runs: %d, Store items: %d\n", info.Runs, info.StoreItems)
		fmt.Fprintf(out, "    Updated: %s\n", info.UpdatedAt)
	}
	return nil
}
