package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/feedlane/internal/feed"
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncTimelineCmd, syncMentionsCmd, syncSearchCmd, syncItemCmd)

	syncTimelineCmd.Flags().Bool("prefer-cache", false, "reuse a fresh timeline snapshot when possible")
	syncMentionsCmd.Flags().String("since", "", "fetch mentions newer than this item id instead of the stored cursor")
	syncSearchCmd.Flags().Int("count", 0, "maximum number of hits (0 uses sync.search_count)")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync against the source",
}

// withApp builds the app for a one-shot command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg := loadConfig()
	setupLogging(cfg)
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printResult(res *feed.Result) error {
	fmt.Fprintf(os.Stdout, "%s: fetched %d, appended %d, skipped %d", res.Kind, res.Fetched, len(res.Appended), res.Skipped)
	if res.FromCache {
		fmt.Fprint(os.Stdout, " (from cache)")
	}
	if res.TimedOut {
		fmt.Fprint(os.Stdout, " (timed out)")
	}
	fmt.Fprintln(os.Stdout)

	if len(res.Appended) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECORD\tITEM\tROOM")
	for _, rec := range res.Appended {
		fmt.Fprintf(w, "%s\t%s\t%s\n", rec.ID, rec.ItemID, rec.RoomID)
	}
	return w.Flush()
}

var syncTimelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Fetch and merge the home timeline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		preferCache, _ := cmd.Flags().GetBool("prefer-cache")
		return withApp(cmd, func(a *app) error {
			res, err := a.sync.SyncTimeline(cmd.Context(), preferCache)
			if err != nil {
				return fmt.Errorf("sync timeline: %w", err)
			}
			return printResult(res)
		})
	},
}

var syncMentionsCmd = &cobra.Command{
	Use:   "mentions",
	Short: "Fetch and merge new mentions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		return withApp(cmd, func(a *app) error {
			var (
				res *feed.Result
				err error
			)
			if since != "" {
				res, err = a.sync.SyncMentions(cmd.Context(), since)
			} else {
				res, err = a.sync.SyncMentionsFromCursor(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("sync mentions: %w", err)
			}
			return printResult(res)
		})
	},
}

var syncSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run an ad-hoc search and merge the hits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		return withApp(cmd, func(a *app) error {
			res, err := a.sync.Search(cmd.Context(), args[0], count)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			return printResult(res)
		})
	},
}

var syncItemCmd = &cobra.Command{
	Use:   "item <id>",
	Short: "Show a single item, from the snapshot cache or the source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			item, err := a.sync.GetItem(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get item: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(item)
		})
	},
}
