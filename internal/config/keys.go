package config

// Override keys. Each key is both the viper key and, upper-cased with
// EnvPrefix, the environment variable (e.g. VPNWATCH_WEBHOOK_URL).
const (
	EnvPrefix = "VPNWATCH"

	KeyFeed       = "feed"
	KeyInterval   = "interval"
	KeyWebhookURL = "webhook_url"
	KeyMapping    = "mapping"
	KeyListen     = "listen"
	KeyDryRun     = "dry_run"
	KeyLogLevel   = "log_level"
	KeyLogFormat  = "log_format"
)

// CLI flag names, bound to the keys above.
const (
	FlagConfig     = "config"
	FlagFeed       = "feed"
	FlagInterval   = "interval"
	FlagWebhookURL = "webhook-url"
	FlagMapping    = "mapping"
	FlagListen     = "listen"
	FlagDryRun     = "dry-run"
	FlagLogLevel   = "log-level"
	FlagLogFormat  = "log-format"
	FlagMock       = "mock"
)
