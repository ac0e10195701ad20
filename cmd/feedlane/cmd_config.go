package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/feedlane/internal/config"
)

var configReveal bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
	configListCmd.Flags().BoolVar(&configReveal, "reveal", false, "show secrets in full")
	configGetCmd.Flags().BoolVar(&configReveal, "reveal", false, "show secrets in full")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the feedlane config file",
}

var configListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List effective values, optionally under a section such as sync or post",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = strings.TrimSuffix(args[0], ".") + "."
		}
		return listConfig(os.Stdout, loadConfig(), prefix, !configReveal)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one value as stored in the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		if s, ok := val.(string); ok && !configReveal && config.IsSecretKey(args[0]) {
			val = config.MaskSecrets(map[string]any{args[0]: s})[args[0]]
		}
		fmt.Fprintln(os.Stdout, val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a value in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := checkSetting(key, value); err != nil {
			return err
		}
		if _, err := config.Load(cfgPath); err != nil {
			return err
		}
		if err := config.SetValue(cfgPath, key, value); err != nil {
			return err
		}
		display := value
		if config.IsSecretKey(key) {
			display = "***"
		}
		fmt.Fprintf(os.Stdout, "Set %s = %s\n", key, display)
		return nil
	},
}

func listConfig(w io.Writer, cfg *config.Config, prefix string, mask bool) error {
	values, err := config.ListValues(cfg, mask)
	if err != nil {
		return fmt.Errorf("list config: %w", err)
	}
	n := 0
	for _, k := range config.SortedKeys(values) {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		fmt.Fprintf(w, "%s = %v\n", k, values[k])
		n++
	}
	if n == 0 && prefix != "" {
		return fmt.Errorf("no config keys under %s", strings.TrimSuffix(prefix, "."))
	}
	return nil
}

// checkSetting rejects keys feedlane does not read, so a typo does not end
// up silently ignored in the file.
func checkSetting(key, value string) error {
	known, err := config.ListValues(config.Default(), false)
	if err != nil {
		return err
	}
	if _, ok := known[key]; !ok {
		return fmt.Errorf("unknown config key: %s (see 'feedlane config list')", key)
	}
	if key == "storage.backend" && value != "file" && value != "sqlite" {
		return fmt.Errorf("storage.backend must be file or sqlite, got %q", value)
	}
	return nil
}
