package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/stallwatch/internal/config"
	"github.com/smazurov/stallwatch/internal/logging"
	"github.com/smazurov/stallwatch/internal/session"
)

// CreateRunCmd creates the run command.
func CreateRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [flags] [-- command args...]",
		Short: "Run a command and warn when its output stalls",
		Long: `Runs the command given after -- (or process.command from the config file), ` +
			`streams its output, and emits a warning every stall interval while no output arrives. ` +
			`Exits with the child's exit code.`,
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			os.Exit(runSession(cmd, args, opts))
		}),
	}
}

func runSession(cmd *cobra.Command, args []string, opts *Options) int {
	logger := logging.GetLogger("main")

	resolved, err := opts.Resolve(args)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		return 2
	}

	watcher := watchLoggingConfig(cmd, opts)
	if watcher != nil {
		defer func() { _ = watcher.Stop() }()
	}

	sess, err := session.New(session.Options{
		ProcessID:       resolved.ProcessID,
		Args:            resolved.Args,
		Command:         resolved.Command,
		Dir:             resolved.Dir,
		StallDetect:     resolved.StallDetect,
		StallInterval:   resolved.StallInterval,
		GracefulTimeout: resolved.GracefulTimeout,
		Passthrough:     resolved.Passthrough,
		Listen:          resolved.Listen,
		AuthUsername:    resolved.AuthUsername,
		AuthPassword:    resolved.AuthPassword,
	})
	if err != nil {
		logger.Error("Failed to create session", "error", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting session",
		"process_id", resolved.ProcessID,
		"stall_detect", resolved.StallDetect,
		"stall_interval", resolved.StallInterval,
		"listen", resolved.Listen,
	)
	exitCode := sess.Run(ctx)
	logger.Info("Session finished", "exit_code", exitCode)
	return exitCode
}

// watchLoggingConfig hot-reloads log levels from the config file.
// Returns nil when there is no file to watch.
func watchLoggingConfig(cmd *cobra.Command, opts *Options) *config.Watcher[logging.Config] {
	if opts.Config == "" {
		return nil
	}
	if _, err := os.Stat(opts.Config); err != nil {
		return nil
	}

	logger := logging.GetLogger("config")
	loader := func(path string) (logging.Config, error) {
		fresh := *opts
		fresh.Config = path
		if err := config.LoadConfig(&fresh, cmd); err != nil {
			return logging.Config{}, err
		}
		cfg := config.LoadLoggingConfig(path)
		// Options win over extra [logging] keys so flags keep precedence
		for module, level := range fresh.LoggingConfig().Modules {
			cfg.Modules[module] = level
		}
		cfg.Level = fresh.LoggingLevel
		return cfg, nil
	}

	watcher := config.NewConfigWatcher(opts.Config, loader, logger)
	watcher.OnReload(func(cfg logging.Config) {
		logging.UpdateLevels(cfg)
		logger.Info("Log levels reloaded", "level", cfg.Level)
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("Failed to start config watcher, hot-reload disabled", "error", err)
		return nil
	}
	return watcher
}
