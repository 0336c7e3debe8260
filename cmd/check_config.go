package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// CreateCheckConfigCmd creates the check-config command.
func CreateCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate configuration and print the resolved settings",
		Long:  `Loads the config file, environment and flags with normal precedence and prints the effective settings as TOML.`,
		Args:  cobra.NoArgs,
		Run: humacli.WithOptions(func(_ *cobra.Command, _ []string, opts *Options) {
			if err := checkConfig(os.Stdout, opts); err != nil {
				fmt.Fprintln(os.Stderr, "invalid configuration:", err)
				os.Exit(2)
			}
		}),
	}
}

type resolvedFile struct {
	Features struct {
		StallDetect bool `toml:"stall_detect"`
	} `toml:"features"`
	Stall struct {
		Interval string `toml:"interval"`
	} `toml:"stall"`
	Process struct {
		ID              string `toml:"id"`
		Command         string `toml:"command"`
		Dir             string `toml:"dir,omitempty"`
		GracefulTimeout string `toml:"graceful_timeout"`
		Passthrough     bool   `toml:"passthrough"`
	} `toml:"process"`
	Server struct {
		Listen string `toml:"listen"`
		Auth   bool   `toml:"auth"`
	} `toml:"server"`
	Logging map[string]string `toml:"logging"`
}

// checkConfig resolves opts and writes them to w as TOML.
// A missing command is allowed since run can take it from the command line.
func checkConfig(w io.Writer, opts *Options) error {
	candidate := *opts
	if candidate.ProcessCommand == "" {
		candidate.ProcessCommand = "-"
	}
	resolved, err := candidate.Resolve(nil)
	if err != nil {
		return err
	}

	var out resolvedFile
	out.Features.StallDetect = resolved.StallDetect
	out.Stall.Interval = resolved.StallInterval.String()
	out.Process.ID = resolved.ProcessID
	out.Process.Command = opts.ProcessCommand
	out.Process.Dir = resolved.Dir
	out.Process.GracefulTimeout = resolved.GracefulTimeout.String()
	out.Process.Passthrough = resolved.Passthrough
	out.Server.Listen = resolved.Listen
	out.Server.Auth = resolved.AuthUsername != ""

	logCfg := opts.LoggingConfig()
	out.Logging = map[string]string{"level": logCfg.Level, "format": logCfg.Format}
	for module, level := range logCfg.Modules {
		out.Logging[module] = level
	}

	fmt.Fprintf(w, "# config: %s\n", opts.Config)
	return toml.NewEncoder(w).Encode(out)
}
