package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/lukehenning/shepherd/internal/commlog"
	"github.com/lukehenning/shepherd/internal/compress"
	"github.com/lukehenning/shepherd/internal/config"
	"github.com/lukehenning/shepherd/internal/dashboard"
	"github.com/lukehenning/shepherd/internal/llm"
	"github.com/lukehenning/shepherd/internal/logging"
	"github.com/lukehenning/shepherd/internal/orchestrator"
	"github.com/lukehenning/shepherd/internal/remote"
	"github.com/lukehenning/shepherd/internal/repo"
	"github.com/lukehenning/shepherd/internal/trace"
	"github.com/lukehenning/shepherd/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the supervision loop",
	Long: `Run starts the continuous supervision loop against the configured
repository and agent service, serves the HTTP dashboard, and watches the
system-message file for operator edits.`,
	RunE: runSupervision,
}

func init() {
	runCmd.Flags().Bool("tui", false, "show the terminal event feed")
	runCmd.Flags().Int("max-iterations", 0, "stop after N cycles (0 = unbounded)")
	rootCmd.AddCommand(runCmd)
}

func runSupervision(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if maxIter, err := cmd.Flags().GetInt("max-iterations"); err == nil && maxIter > 0 {
		cfg.Loop.MaxIterations = maxIter
	}
	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	logger, err := logging.NewLogger(cfg.DataDir(), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	bus := trace.NewBuffer(cfg.Trace.MaxEvents)

	messages, err := commlog.Open(cfg.CommLogPath())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repoManager := repo.NewManager(cfg.Repo, cfg.Compression)
	if err := repoManager.Validate(ctx); err != nil {
		return err
	}

	generator := llm.NewClient(cfg.Generator, bus)
	pipeline := compress.New(cfg.Compression, generator, bus)
	agent := remote.NewClient(cfg.Agent)

	shared := orchestrator.NewSharedState()
	if cfg.Agent.Source != "" {
		shared.SetSelectedSource(cfg.Agent.Source)
	}
	if cfg.Agent.SessionID != "" {
		shared.SetSessionID(cfg.Agent.SessionID)
	}
	if data, err := os.ReadFile(cfg.SystemMessagePath()); err == nil {
		shared.SetSystemMessage(string(data))
	}

	loop := orchestrator.New(orchestrator.Options{
		Config:     cfg,
		Generator:  generator,
		Compressor: pipeline,
		Agent:      agent,
		Repo:       repoManager,
		Messages:   messages,
		Trace:      bus,
		Logger:     logger,
		Shared:     shared,
	})

	watcher, err := watchSystemMessage(cfg.SystemMessagePath(), shared, logger)
	if err != nil {
		logger.Warn("system-message watch unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	server := dashboard.New(dashboard.Options{
		Config:            cfg.Dashboard,
		Shared:            shared,
		Project:           loop.Project(),
		Trace:             bus,
		Messages:          messages,
		Sources:           agent,
		SystemMessagePath: cfg.SystemMessagePath(),
		Logger:            logger,
	})
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Generator.Timeout())
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	showTUI, _ := cmd.Flags().GetBool("tui")
	if showTUI {
		done := make(chan struct{})
		go func() {
			loop.Run(ctx)
			close(done)
		}()
		if err := tui.Run(shared, loop.Project(), bus); err != nil {
			return err
		}
		// TUI exit means the operator is done watching; request a stop
		// and wait for the cycle in flight.
		shared.AddInterrupt(orchestrator.StopSentinel)
		stop()
		<-done
		return nil
	}

	loop.Run(ctx)
	return nil
}

// watchSystemMessage applies edits of the system-message file to the
// shared state. The loop reads the field at cycle boundaries, so an
// edit never lands mid-generation; the lock suppresses updates.
func watchSystemMessage(path string, shared *orchestrator.SharedState, logger *logging.Logger) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				data, err := os.ReadFile(path)
				if err != nil {
					continue
				}
				if shared.SetSystemMessage(string(data)) {
					logger.Info("system message reloaded", "bytes", len(data))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("system-message watch error", "error", err)
			}
		}
	}()
	return watcher, nil
}
