package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/vpnwatch/backend/internal/notify"
)

const (
	DefaultFeedPath       = "/run/openvpn-server/status-server.log"
	DefaultMarker         = "CLIENT_LIST"
	DefaultPollInterval   = 10 * time.Second
	DefaultMappingPath    = "vpn_mapping.json"
	DefaultNotifyTimeout  = 10 * time.Second
	DefaultGatewayProcess = "openvpn"
)

type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	Mapping  MappingConfig  `yaml:"mapping"`
	Notifier NotifierConfig `yaml:"notifier"`
	Server   ServerConfig   `yaml:"server"`
	Privacy  PrivacyConfig  `yaml:"privacy"`
	Stats    StatsConfig    `yaml:"stats"`
	Log      LogConfig      `yaml:"log"`
}

type FeedConfig struct {
	Path         string        `yaml:"path"`
	Marker       string        `yaml:"marker"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// RequireEnd treats a feed without its trailing END line as unavailable.
	RequireEnd bool `yaml:"require_end"`
	// GatewayProcess is the process name probed when the feed is missing.
	// Empty disables the probe.
	GatewayProcess string `yaml:"gateway_process"`
	// HealthWarningThreshold is the number of consecutive failed polls after
	// which the feed is reported as failed.
	HealthWarningThreshold int `yaml:"health_warning_threshold"`
}

type MappingConfig struct {
	Path      string `yaml:"path"`
	Extension string `yaml:"extension"`
}

type NotifierConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	DryRun         bool          `yaml:"dry_run"`
	LoginTemplate  string        `yaml:"login_template"`
	LogoutTemplate string        `yaml:"logout_template"`
}

// ServerConfig controls the optional live status server. An empty Listen
// disables it.
type ServerConfig struct {
	Listen           string        `yaml:"listen"`
	AuthToken        string        `yaml:"auth_token"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	MaxConnections   int           `yaml:"max_connections"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type PrivacyConfig struct {
	MaskAddresses  bool     `yaml:"mask_addresses"`
	MaskSessionIDs bool     `yaml:"mask_session_ids"`
	AllowedIDs     []string `yaml:"allowed_ids"`
	BlockedIDs     []string `yaml:"blocked_ids"`
}

type StatsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Dir          string        `yaml:"dir"` // empty selects the XDG state directory
	SaveInterval time.Duration `yaml:"save_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			Path:                   DefaultFeedPath,
			Marker:                 DefaultMarker,
			PollInterval:           DefaultPollInterval,
			GatewayProcess:         DefaultGatewayProcess,
			HealthWarningThreshold: 3,
		},
		Mapping: MappingConfig{
			Path:      DefaultMappingPath,
			Extension: ".ovpn",
		},
		Notifier: NotifierConfig{
			Timeout: DefaultNotifyTimeout,
		},
		Server: ServerConfig{
			MaxConnections:   32,
			SnapshotInterval: 30 * time.Second,
		},
		Stats: StatsConfig{
			Enabled:      true,
			SaveInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// HealthThreshold returns the configured failure threshold, falling back to
// 3 when unset.
func (c *Config) HealthThreshold() int {
	if t := c.Feed.HealthWarningThreshold; t > 0 {
		return t
	}
	return 3
}

// Validate reports the first configuration error. mock relaxes the checks
// that only matter when reading a real feed and posting to a real endpoint.
func (c *Config) Validate(mock bool) error {
	if c.Feed.PollInterval <= 0 {
		return fmt.Errorf("feed.poll_interval must be positive, got %s", c.Feed.PollInterval)
	}
	if !mock {
		if c.Feed.Path == "" {
			return errors.New("feed.path is required")
		}
		if c.Feed.Marker == "" {
			return errors.New("feed.marker must not be empty")
		}
	}
	if c.Notifier.Timeout <= 0 {
		return fmt.Errorf("notifier.timeout must be positive, got %s", c.Notifier.Timeout)
	}
	if !c.Notifier.DryRun {
		if err := validateWebhookURL(c.Notifier.URL); err != nil {
			return err
		}
	}
	if _, err := notify.NewFormatter(c.Notifier.LoginTemplate, c.Notifier.LogoutTemplate); err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	if c.Server.Listen != "" {
		if _, port, err := net.SplitHostPort(c.Server.Listen); err != nil {
			return fmt.Errorf("server.listen: %w", err)
		} else if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("server.listen: invalid port %q", port)
		}
		if c.Server.SnapshotInterval <= 0 {
			return fmt.Errorf("server.snapshot_interval must be positive, got %s", c.Server.SnapshotInterval)
		}
	}
	if c.Stats.Enabled && c.Stats.SaveInterval <= 0 {
		return fmt.Errorf("stats.save_interval must be positive, got %s", c.Stats.SaveInterval)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return errors.New("notifier.url is required unless dry_run is set")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("notifier.url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("notifier.url must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}
