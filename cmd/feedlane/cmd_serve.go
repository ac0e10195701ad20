package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/feedlane/internal/compose"
	"github.com/user/feedlane/internal/config"
	ctxengine "github.com/user/feedlane/internal/context"
	"github.com/user/feedlane/internal/delivery"
	"github.com/user/feedlane/internal/scheduler"
	"github.com/user/feedlane/internal/source"
	"github.com/user/feedlane/internal/state"
	"github.com/user/feedlane/internal/telegram"
	"github.com/user/feedlane/internal/webhook"
	"github.com/user/feedlane/pkg/llm"
	"github.com/user/feedlane/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the feedlane daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var errRestart = errors.New("restart requested")

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "feedlane.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// LLM provider
	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Stop:        []string{"\n\n\n"},
		Timeout:     cfg.LLM.Timeout(),
		MaxRetries:  cfg.LLM.MaxRetries,
	})
	engine, err := ctxengine.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return fmt.Errorf("create context engine: %w", err)
	}
	composer := compose.New(provider, engine, a.sync.Account(), cfg.Post.MaxLength, compose.Prompts{})

	// Delivery registry
	deliveries := delivery.NewRegistry()
	deliveries.Register(scheduler.FeedTarget, delivery.FeedHandler(a.queue, a.client))

	targets := cfg.Post.Targets
	if len(targets) == 0 {
		targets = []string{scheduler.FeedTarget}
	}

	var publisher *telegram.Publisher
	if cfg.Telegram.Token != "" {
		publisher, err = telegram.New(cfg.Telegram.Token, statusFunc(a))
		if err != nil {
			return fmt.Errorf("create telegram publisher: %w", err)
		}
		deliveries.Register(telegram.TargetPrefix, publisher.Deliver)
		if cfg.Telegram.MirrorChat != 0 {
			targets = append(targets, telegram.TargetPrefix+strconv.FormatInt(cfg.Telegram.MirrorChat, 10))
		}
	} else {
		slog.Warn("telegram publisher disabled (no token)")
	}

	loops := buildLoops(cfg, a, composer, deliveries, targets)

	searches := scheduler.NewSearches(state.NewSearchStore(filepath.Join(cfg.DataDir, "searches.json")), a.sync)
	if err := searches.Start(); err != nil {
		return fmt.Errorf("start saved searches: %w", err)
	}
	defer searches.Stop()

	slog.Info("feedlane started",
		"account", a.sync.Account().ID,
		"data_dir", cfg.DataDir,
		"storage", cfg.Storage.Backend,
		"dry_run", cfg.DryRun,
		"loops", len(loops),
		"saved_searches", searches.Entries(),
		"targets", targets,
		"delivery_prefixes", deliveries.Prefixes(),
		"llm_model", cfg.LLM.Model,
		"pid_file", pidFile,
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		g.Go(func() error { return l.Run(gctx) })
	}

	if publisher != nil {
		g.Go(func() error {
			publisher.Start(gctx)
			return nil
		})
		slog.Info("telegram publisher started")
	}

	if cfg.Webhook.Addr != "" {
		httpServer := &http.Server{
			Addr:    cfg.Webhook.Addr,
			Handler: webhook.NewServer(a.sync, searches, a.store.records),
		}
		g.Go(func() error {
			slog.Info("webhook server started", "listen", cfg.Webhook.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("webhook server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return httpServer.Close()
		})
	}

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		select {
		case <-hup:
			return errRestart
		case <-gctx.Done():
			return nil
		}
	})

	err = g.Wait()
	if errors.Is(err, errRestart) {
		return restart(a, pidFile)
	}
	slog.Info("shutting down")
	return err
}

// restart re-executes the binary in place. On failure the daemon exits and
// leaves restarting to its supervisor.
func restart(a *app, pidFile string) error {
	slog.Info("received SIGHUP, restarting")
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}
	a.Close()
	os.Remove(pidFile)
	if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("re-exec: %w", err)
	}
	return nil
}

func buildLoops(cfg *config.Config, a *app, composer *compose.Composer, deliveries *delivery.Registry, targets []string) []*scheduler.Loop {
	var loops []*scheduler.Loop

	if poll := cfg.Sync.PollInterval(); poll > 0 {
		loops = append(loops, &scheduler.Loop{
			Name: "timeline",
			Cycle: func(ctx context.Context) error {
				_, err := a.sync.SyncTimeline(ctx, false)
				return err
			},
			Interval: scheduler.Every(poll),
		})
	}

	if cfg.Post.Enabled {
		post := &scheduler.PostCycle{
			Sync:        a.sync,
			Composer:    composer,
			Deliverer:   deliveries,
			Targets:     targets,
			MaxLength:   cfg.Post.MaxLength,
			DryRun:      cfg.DryRun,
			Bookkeeping: scheduler.BookkeepingAlways,
		}
		loops = append(loops, &scheduler.Loop{
			Name:      "post",
			Cycle:     post.Run,
			Interval:  scheduler.Between(cfg.Post.IntervalMin(), cfg.Post.IntervalMax()),
			Immediate: cfg.Post.Immediately,
		})
	}

	if cfg.Actions.Enabled {
		action := &scheduler.ActionCycle{
			Sync:        a.sync,
			Composer:    composer,
			Deliverer:   deliveries,
			MaxLength:   cfg.Post.MaxLength,
			DryRun:      cfg.DryRun,
			Bookkeeping: scheduler.BookkeepingAlways,
		}
		loops = append(loops, &scheduler.Loop{
			Name:      "action",
			Cycle:     action.Run,
			Interval:  scheduler.Every(cfg.Actions.Interval()),
			Cooldown:  cfg.Actions.Cooldown(),
			Immediate: true,
		})
	}

	if cfg.Article.Enabled && cfg.Article.URL != "" {
		article := &scheduler.ArticleCycle{
			Sync:        a.sync,
			Reader:      source.NewArticleReader(cfg.Article.LinkPrefix),
			Composer:    composer,
			Deliverer:   deliveries,
			URL:         cfg.Article.URL,
			Targets:     targets,
			MaxLength:   cfg.Post.MaxLength,
			DryRun:      cfg.DryRun,
			Bookkeeping: scheduler.BookkeepingLiveOnly,
		}
		loops = append(loops, &scheduler.Loop{
			Name:      "article",
			Cycle:     article.Run,
			Interval:  scheduler.Every(cfg.Article.Interval()),
			Immediate: true,
		})
	}

	return loops
}

// statusFunc reports the account's sync state for the Telegram /status command.
func statusFunc(a *app) telegram.StatusFunc {
	return func(ctx context.Context) (string, error) {
		st, err := a.sync.Status(ctx)
		if err != nil {
			return "", err
		}
		return st.String(), nil
	}
}
