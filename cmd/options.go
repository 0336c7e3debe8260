package cmd

import (
	"fmt"
	"time"

	"github.com/smazurov/stallwatch/internal/config"
	"github.com/smazurov/stallwatch/internal/logging"
	"github.com/smazurov/stallwatch/internal/process"
	"github.com/smazurov/stallwatch/internal/stall"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"stallwatch.toml"`

	// Process settings
	ProcessID              string `help:"Identifier used in logs, events and metrics" default:"main" toml:"process.id" env:"PROCESS_ID"`
	ProcessCommand         string `help:"Command to run when none is given after --" default:"" toml:"process.command" env:"PROCESS_COMMAND"`
	ProcessDir             string `help:"Working directory for the child" default:"" toml:"process.dir" env:"PROCESS_DIR"`
	ProcessGracefulTimeout string `help:"Wait after SIGINT before SIGKILL" default:"5s" toml:"process.graceful_timeout" env:"PROCESS_GRACEFUL_TIMEOUT"`
	ProcessPassthrough     bool   `help:"Copy child output to stdout/stderr" default:"true" toml:"process.passthrough" env:"PROCESS_PASSTHROUGH"`

	// Stall detection settings
	StallInterval       string `help:"Silence that triggers a warning, repeated while silent" default:"30m" toml:"stall.interval" env:"STALL_INTERVAL"`
	FeaturesStallDetect bool   `help:"Enable stall detection" default:"false" toml:"features.stall_detect" env:"FEATURES_STALL_DETECT"`

	// Status server settings
	ServerListen string `help:"Status server address, empty disables it" default:"" toml:"server.listen" env:"SERVER_LISTEN"`
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingStall   string `help:"Stall monitor logging level" default:"info" toml:"logging.stall" env:"LOGGING_STALL"`
	LoggingProcess string `help:"Process runner logging level" default:"info" toml:"logging.process" env:"LOGGING_PROCESS"`
	LoggingChild   string `help:"Child output logging level" default:"info" toml:"logging.child" env:"LOGGING_CHILD"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

// LoggingConfig returns the logging configuration carried by the options.
func (o *Options) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"stall":   o.LoggingStall,
			"process": o.LoggingProcess,
			"child":   o.LoggingChild,
			"api":     o.LoggingAPI,
			"http":    o.LoggingAPI,
		},
	}
}

// Features returns the resolved feature toggles.
func (o *Options) Features() *config.Features {
	return &config.Features{StallDetect: o.FeaturesStallDetect}
}

// Resolved is the validated, typed form of Options.
type Resolved struct {
	ProcessID       string
	Args            []string
	Command         string
	Dir             string
	GracefulTimeout time.Duration
	Passthrough     bool
	StallDetect     bool
	StallInterval   time.Duration
	Listen          string
	AuthUsername    string
	AuthPassword    string
}

// Resolve validates the options. args, when non-empty, replace the
// configured command.
func (o *Options) Resolve(args []string) (*Resolved, error) {
	interval, err := config.ParseDuration(o.StallInterval, stall.DefaultInterval)
	if err != nil {
		return nil, fmt.Errorf("stall.interval: %w", err)
	}
	graceful, err := config.ParseDuration(o.ProcessGracefulTimeout, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("process.graceful_timeout: %w", err)
	}

	r := &Resolved{
		ProcessID:       o.ProcessID,
		Args:            args,
		Dir:             o.ProcessDir,
		GracefulTimeout: graceful,
		Passthrough:     o.ProcessPassthrough,
		StallDetect:     o.Features().StallDetectEnabled(),
		StallInterval:   interval,
		Listen:          o.ServerListen,
		AuthUsername:    o.AuthUsername,
		AuthPassword:    o.AuthPassword,
	}
	if len(args) == 0 {
		r.Command = o.ProcessCommand
		if r.Command == "" {
			return nil, process.ErrEmptyCommand
		}
	}
	if (o.AuthUsername == "") != (o.AuthPassword == "") {
		return nil, fmt.Errorf("auth.username and auth.password must be set together")
	}
	return r, nil
}
