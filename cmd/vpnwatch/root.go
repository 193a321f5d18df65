package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vpnwatch/backend/internal/config"
	"github.com/vpnwatch/backend/internal/logging"
)

const defaultConfigFile = "vpnwatch.yaml"

var (
	cfgFile  string
	mockMode bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vpnwatch",
		Short: "Watch an OpenVPN status feed and announce logins and logouts",
		Long: "vpnwatch polls the OpenVPN status file, resolves connected credentials to\n" +
			"people through a mapping file and posts a chat message for every login\n" +
			"and logout. Running it without a subcommand is the same as 'vpnwatch run'.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&cfgFile, config.FlagConfig, "c", defaultConfigFile, "config file (optional unless set explicitly)")
	pf.String(config.FlagFeed, config.DefaultFeedPath, "OpenVPN status file")
	pf.Duration(config.FlagInterval, config.DefaultPollInterval, "poll interval")
	pf.String(config.FlagWebhookURL, "", "chat webhook URL")
	pf.String(config.FlagMapping, config.DefaultMappingPath, "identity mapping file")
	pf.String(config.FlagListen, "", "status server address (host:port), empty disables it")
	pf.Bool(config.FlagDryRun, false, "log notifications instead of sending them")
	pf.String(config.FlagLogLevel, "info", "log level (debug, info, warn, error)")
	pf.String(config.FlagLogFormat, "console", "log format (console or json)")
	pf.BoolVar(&mockMode, config.FlagMock, false, "use synthetic sessions instead of the status file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig reads the config file and applies flag and environment
// overrides. A missing default config file is not an error. Commands that
// never send notifications pass notifying=false to skip webhook checks.
func loadConfig(cmd *cobra.Command, notifying bool) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cmd.Flags().Changed(config.FlagConfig) {
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.LoadOrDefault(cfgFile)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	config.ApplyOverrides(cfg, v)

	if !notifying || (mockMode && cfg.Notifier.URL == "") {
		cfg.Notifier.DryRun = true
	}
	if err := cfg.Validate(mockMode); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
}
