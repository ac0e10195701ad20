package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/feedlane/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively configure the account, storage and cycles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := runSetup(os.Stdin, os.Stdout, cfg); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// wizard reads answers line by line. An empty answer keeps the current value.
type wizard struct {
	in  *bufio.Scanner
	out io.Writer
}

func runSetup(in io.Reader, out io.Writer, cfg *config.Config) error {
	w := &wizard{in: bufio.NewScanner(in), out: out}

	fmt.Fprintln(out, "Feedlane setup")
	fmt.Fprintln(out, "Press Enter to keep the value shown in brackets.")

	w.section("Account")
	cfg.Account.ID = w.text("Account id (names the cache namespace)", cfg.Account.ID)
	cfg.Account.ScreenName = strings.TrimPrefix(w.text("Screen name", cfg.Account.ScreenName), "@")
	cfg.Account.UserID = w.text("Remote user id (empty resolves from profile)", cfg.Account.UserID)
	if cfg.Account.ID == "" {
		return fmt.Errorf("account id is required")
	}

	w.section("Source")
	cfg.Source.BaseURL = w.text("Source sidecar URL", cfg.Source.BaseURL)
	cfg.Source.APIKey = w.text("Source API key (optional)", cfg.Source.APIKey)

	w.section("Storage")
	cfg.Storage.Backend = w.choice("Backend", cfg.Storage.Backend, "file", "sqlite")
	if cfg.Storage.Backend == "sqlite" {
		cfg.Storage.SQLitePath = w.text("SQLite path (empty uses data_dir/feedlane.db)", cfg.Storage.SQLitePath)
	}
	cfg.Sync.Namespace = w.text("Cache namespace", cfg.Sync.Namespace)
	cfg.Sync.PollIntervalSeconds = w.number("Timeline poll interval (seconds)", cfg.Sync.PollIntervalSeconds)

	w.section("Cycles")
	cfg.DryRun = w.yesNo("Dry run (log instead of publishing)", cfg.DryRun)
	cfg.Post.Enabled = w.yesNo("Scheduled posts", cfg.Post.Enabled)
	if cfg.Post.Enabled {
		cfg.Post.IntervalMinMinutes = w.number("Minimum minutes between posts", cfg.Post.IntervalMinMinutes)
		cfg.Post.IntervalMaxMinutes = w.number("Maximum minutes between posts", cfg.Post.IntervalMaxMinutes)
		if cfg.Post.IntervalMaxMinutes < cfg.Post.IntervalMinMinutes {
			cfg.Post.IntervalMaxMinutes = cfg.Post.IntervalMinMinutes
		}
		cfg.Post.Targets = w.list("Post targets (comma separated)", cfg.Post.Targets)
	}
	cfg.Actions.Enabled = w.yesNo("Reply to mentions", cfg.Actions.Enabled)
	if cfg.Actions.Enabled {
		cfg.Actions.IntervalMinutes = w.number("Minutes between mention checks", cfg.Actions.IntervalMinutes)
	}
	cfg.Article.Enabled = w.yesNo("Article digests", cfg.Article.Enabled)
	if cfg.Article.Enabled {
		cfg.Article.URL = w.text("Article endpoint URL", cfg.Article.URL)
	}

	w.section("Language model")
	cfg.LLM.BaseURL = w.text("Base URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = w.text("API key", cfg.LLM.APIKey)
	cfg.LLM.Model = w.text("Model", cfg.LLM.Model)

	w.section("Control")
	cfg.Webhook.Addr = w.text("Control server address (empty disables)", cfg.Webhook.Addr)
	cfg.Telegram.Token = w.text("Telegram bot token (optional)", cfg.Telegram.Token)
	if cfg.Telegram.Token != "" {
		cfg.Telegram.MirrorChat = int64(w.number("Telegram chat to mirror posts to (0 disables)", int(cfg.Telegram.MirrorChat)))
	}
	return nil
}

func (w *wizard) section(name string) {
	fmt.Fprintf(w.out, "\n== %s ==\n", name)
}

func (w *wizard) text(label, current string) string {
	if current != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", label, current)
	} else {
		fmt.Fprintf(w.out, "%s: ", label)
	}
	if w.in.Scan() {
		if answer := strings.TrimSpace(w.in.Text()); answer != "" {
			return answer
		}
	}
	return current
}

func (w *wizard) yesNo(label string, current bool) bool {
	def := "n"
	if current {
		def = "y"
	}
	switch strings.ToLower(w.text(label+" (y/n)", def)) {
	case "y", "yes", "true":
		return true
	case "n", "no", "false":
		return false
	}
	return current
}

func (w *wizard) number(label string, current int) int {
	n, err := strconv.Atoi(w.text(label, strconv.Itoa(current)))
	if err != nil || n < 0 {
		fmt.Fprintf(w.out, "  not a number, keeping %d\n", current)
		return current
	}
	return n
}

func (w *wizard) choice(label, current string, options ...string) string {
	if current == "" {
		current = options[0]
	}
	answer := w.text(fmt.Sprintf("%s (%s)", label, strings.Join(options, "/")), current)
	for _, o := range options {
		if strings.EqualFold(answer, o) {
			return o
		}
	}
	fmt.Fprintf(w.out, "  unknown option %q, keeping %s\n", answer, current)
	return current
}

func (w *wizard) list(label string, current []string) []string {
	answer := w.text(label, strings.Join(current, ","))
	var out []string
	for _, part := range strings.Split(answer, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
