package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps CLI flags to override keys.
var flagKeys = map[string]string{
	FlagFeed:       KeyFeed,
	FlagInterval:   KeyInterval,
	FlagWebhookURL: KeyWebhookURL,
	FlagMapping:    KeyMapping,
	FlagListen:     KeyListen,
	FlagDryRun:     KeyDryRun,
	FlagLogLevel:   KeyLogLevel,
	FlagLogFormat:  KeyLogFormat,
}

// NewViper returns a viper instance that resolves the override keys from
// the given flags first and from VPNWATCH_* environment variables second.
// Flags that are absent from the set are skipped.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	for flag, key := range flagKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
		if flags == nil {
			continue
		}
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

// ApplyOverrides copies every override that was set explicitly (flag
// changed or environment variable present) onto cfg. Flag defaults never
// override the config file.
func ApplyOverrides(cfg *Config, v *viper.Viper) {
	if v.IsSet(KeyFeed) {
		cfg.Feed.Path = v.GetString(KeyFeed)
	}
	if v.IsSet(KeyInterval) {
		cfg.Feed.PollInterval = v.GetDuration(KeyInterval)
	}
	if v.IsSet(KeyWebhookURL) {
		cfg.Notifier.URL = v.GetString(KeyWebhookURL)
	}
	if v.IsSet(KeyMapping) {
		cfg.Mapping.Path = v.GetString(KeyMapping)
	}
	if v.IsSet(KeyListen) {
		cfg.Server.Listen = v.GetString(KeyListen)
	}
	if v.IsSet(KeyDryRun) {
		cfg.Notifier.DryRun = v.GetBool(KeyDryRun)
	}
	if v.IsSet(KeyLogLevel) {
		cfg.Log.Level = v.GetString(KeyLogLevel)
	}
	if v.IsSet(KeyLogFormat) {
		cfg.Log.Format = v.GetString(KeyLogFormat)
	}
}
