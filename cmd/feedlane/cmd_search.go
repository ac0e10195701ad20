package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/feedlane/internal/scheduler"
	"github.com/user/feedlane/internal/state"
)

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.AddCommand(searchAddCmd, searchListCmd, searchRemoveCmd, searchEnableCmd, searchDisableCmd, searchRunCmd)

	searchAddCmd.Flags().String("name", "", "search name (required)")
	searchAddCmd.Flags().String("query", "", "query text, e.g. @alice or a keyword (required)")
	searchAddCmd.Flags().String("schedule", "", "cron schedule expression")
	searchAddCmd.Flags().Int("count", 0, "maximum number of hits per run (0 uses sync.search_count)")
	_ = searchAddCmd.MarkFlagRequired("name")
	_ = searchAddCmd.MarkFlagRequired("query")
}

func searchStore() *state.SearchStore {
	cfg := loadConfig()
	return state.NewSearchStore(filepath.Join(cfg.DataDir, "searches.json"))
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Manage saved searches",
}

var searchAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a saved search",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		query, _ := cmd.Flags().GetString("query")
		schedule, _ := cmd.Flags().GetString("schedule")
		count, _ := cmd.Flags().GetInt("count")

		search := &state.Search{
			Name:     name,
			Query:    query,
			Schedule: schedule,
			Count:    count,
			Enabled:  true,
		}
		if err := searchStore().Add(search); err != nil {
			return fmt.Errorf("add search: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Search %q added. Restart the daemon to schedule it.\n", name)
		return nil
	},
}

var searchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved searches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		searches, err := searchStore().List()
		if err != nil {
			return fmt.Errorf("list searches: %w", err)
		}

		if len(searches) == 0 {
			fmt.Println("No saved searches.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tQUERY\tSCHEDULE\tCOUNT\tENABLED")
		for _, s := range searches {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\n", s.Name, s.Query, s.Schedule, s.Count, s.Enabled)
		}
		return w.Flush()
	},
}

var searchRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a saved search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := searchStore().Remove(args[0]); err != nil {
			return fmt.Errorf("remove search: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Search %q removed.\n", args[0])
		return nil
	},
}

var searchEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a saved search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := searchStore().SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable search: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Search %q enabled.\n", args[0])
		return nil
	},
}

var searchDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a saved search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := searchStore().SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable search: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Search %q disabled.\n", args[0])
		return nil
	},
}

var searchRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a saved search once and merge its hits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := searchStore()
		return withApp(cmd, func(a *app) error {
			res, err := scheduler.NewSearches(store, a.sync).RunNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(res)
		})
	},
}
