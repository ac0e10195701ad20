package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/feedlane/internal/config"
	"github.com/user/feedlane/internal/feed"
	"github.com/user/feedlane/internal/types"
)

var errNotRunning = errors.New("daemon not running")

// statusTimeout bounds the status query against the daemon's control server.
const statusTimeout = 3 * time.Second

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)
}

// daemonPID returns the pid recorded in dataDir when that process is alive.
// A missing pid file or a dead process reports errNotRunning.
func daemonPID(dataDir string) (int, error) {
	data, err := os.ReadFile(pidPath(dataDir))
	if os.IsNotExist(err) {
		return 0, errNotRunning
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s is corrupt: %q", pidPath(dataDir), strings.TrimSpace(string(data)))
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return 0, fmt.Errorf("%w (stale pid %d)", errNotRunning, pid)
	}
	return pid, nil
}

// signalDaemon sends sig to the running daemon.
func signalDaemon(sig syscall.Signal) (int, error) {
	pid, err := daemonPID(loadConfig().DataDir)
	if err != nil {
		return 0, err
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return 0, fmt.Errorf("signal daemon %d: %w", pid, err)
	}
	return pid, nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalDaemon(syscall.SIGTERM)
		if err != nil {
			return err
		}
		fmt.Printf("Stopping feedlane (pid %d).\n", pid)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Re-exec the running daemon with fresh config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalDaemon(syscall.SIGHUP)
		if err != nil {
			return err
		}
		fmt.Printf("Restarting feedlane (pid %d).\n", pid)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon and the account's sync state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		pid, pidErr := daemonPID(cfg.DataDir)
		if pidErr != nil && !errors.Is(pidErr, errNotRunning) {
			return pidErr
		}

		st, err := accountStatus(cmd.Context(), cfg, pidErr == nil)
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}

		if pidErr == nil {
			fmt.Printf("Daemon: running (pid %d)\n", pid)
		} else {
			fmt.Printf("Daemon: %v\n", pidErr)
		}
		fmt.Println(st.String())
		return nil
	},
}

// accountStatus asks the live daemon first and falls back to reading the
// durable state from storage.
func accountStatus(ctx context.Context, cfg *config.Config, running bool) (*feed.Status, error) {
	if running && cfg.Webhook.Addr != "" {
		st, err := fetchStatus(ctx, "http://"+cfg.Webhook.Addr)
		if err == nil {
			return st, nil
		}
		fmt.Fprintf(os.Stderr, "warning: daemon status unavailable, showing stored state: %v\n", err)
	}

	store, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	defer store.close()
	return feed.ReadStatus(ctx, store.cache, cfg.Sync.Namespace, types.AccountID(cfg.Account.ID))
}

// fetchStatus reads GET /status from the daemon's control server.
func fetchStatus(ctx context.Context, baseURL string) (*feed.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var st feed.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}
