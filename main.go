package main

import (
	"log/slog"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/stallwatch/cmd"
	"github.com/smazurov/stallwatch/internal/config"
	"github.com/smazurov/stallwatch/internal/logging"
)

func main() {
	var root *cobra.Command

	cli := humacli.New(func(_ humacli.Hooks, opts *cmd.Options) {
		// Flags > env > config file
		if loadErr := config.LoadConfig(opts, root); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}
		logging.Initialize(opts.LoggingConfig())
	})

	root = cli.Root()
	root.Use = "stallwatch"
	root.Short = "Run a command and warn when its output stalls"
	root.Run = func(c *cobra.Command, _ []string) {
		_ = c.Help()
	}

	root.AddCommand(cmd.CreateRunCmd())
	root.AddCommand(cmd.CreateCheckConfigCmd())
	root.AddCommand(cmd.CreateVersionCmd())

	cli.Run()
}
