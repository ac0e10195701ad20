package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/feedlane/internal/types"
)

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsRoomsCmd, recordsTailCmd, recordsGetCmd)

	recordsTailCmd.Flags().Int("limit", 20, "number of records to show")
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Browse persisted records",
}

// withStorage opens storage only; no source or queue is needed to browse.
func withStorage(fn func(s *storage) error) error {
	cfg := loadConfig()
	s, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(s)
}

var recordsRoomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List rooms with at least one record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(func(s *storage) error {
			rooms, err := s.records.Rooms(cmd.Context())
			if err != nil {
				return fmt.Errorf("list rooms: %w", err)
			}
			if len(rooms) == 0 {
				fmt.Println("No records found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROOM\tRECORDS\tLATEST")
			for _, room := range rooms {
				records, err := s.records.Tail(cmd.Context(), room, 0)
				if err != nil {
					return fmt.Errorf("read room %s: %w", room, err)
				}
				latest := ""
				if n := len(records); n > 0 {
					latest = records[n-1].CreatedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", room, len(records), latest)
			}
			return w.Flush()
		})
	},
}

var recordsTailCmd = &cobra.Command{
	Use:   "tail <room>",
	Short: "Show the latest records of a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStorage(func(s *storage) error {
			records, err := s.records.Tail(cmd.Context(), types.RoomID(args[0]), limit)
			if err != nil {
				return fmt.Errorf("tail room: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tITEM\tSOURCE\tCREATED\tTEXT")
			for _, r := range records {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					r.Seq,
					r.ItemID,
					r.Source,
					r.CreatedAt.Format("2006-01-02 15:04:05"),
					oneLine(r.Text, 60),
				)
			}
			return w.Flush()
		})
	},
}

var recordsGetCmd = &cobra.Command{
	Use:   "get <record-id>",
	Short: "Show one record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(func(s *storage) error {
			rec, err := s.records.RecordByID(cmd.Context(), types.RecordID(args[0]))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		})
	},
}

func oneLine(text string, max int) string {
	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' || r == '\r' || r == '\t' {
			runes[i] = ' '
		}
	}
	if len(runes) > max {
		return string(runes[:max-1]) + "…"
	}
	return string(runes)
}
