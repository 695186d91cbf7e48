// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mattermost-tweetbridge/pkg/archive"
	"github.com/aiku/mattermost-tweetbridge/pkg/connector/tweetfmt"
	"github.com/aiku/mattermost-tweetbridge/pkg/twitter"
)

//go:embed example-config.yaml
var ExampleConfig string

// DefaultAdminAPIAddr is the listen address of the admin API.
const DefaultAdminAPIAddr = ":29320"

// Config holds the bridge configuration.
type Config struct {
	Twitter    TwitterConfig    `yaml:"twitter"`
	Mattermost MattermostConfig `yaml:"mattermost"`
	// Database is the path of the SQLite file holding subscriptions and
	// delivered messages.
	Database string        `yaml:"database"`
	Archive  ArchiveConfig `yaml:"archive"`
	// AdminAPIAddr is the listen address of the admin HTTP API. Set to "-"
	// to disable it.
	AdminAPIAddr string `yaml:"admin_api_addr"`

	Logging zeroconfig.Config `yaml:"logging"`
}

// TwitterConfig holds the stream credentials.
type TwitterConfig struct {
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	AccessToken    string `yaml:"access_token"`
	AccessSecret   string `yaml:"access_secret"`
	StreamURL      string `yaml:"stream_url"`
	// StallTimeout is in seconds.
	StallTimeout int `yaml:"stall_timeout"`
}

// MattermostConfig holds the chat side settings.
type MattermostConfig struct {
	ServerURL      string  `yaml:"server_url"`
	Token          string  `yaml:"token"`
	PostsPerSecond float64 `yaml:"posts_per_second"`
	EscapeOpen     string  `yaml:"escape_open"`
	EscapeClose    string  `yaml:"escape_close"`
}

// ArchiveConfig holds the raw post archive settings.
type ArchiveConfig struct {
	Directory     string `yaml:"directory"`
	RetentionDays int    `yaml:"retention_days"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills defaults and checks required fields.
func (c *Config) PostProcess() error {
	if c.Twitter.StreamURL == "" {
		c.Twitter.StreamURL = twitter.DefaultStreamURL
	}
	if c.Twitter.StallTimeout <= 0 {
		c.Twitter.StallTimeout = int(twitter.DefaultStallTimeout / time.Second)
	}
	if c.Mattermost.PostsPerSecond <= 0 {
		c.Mattermost.PostsPerSecond = DefaultPostsPerSecond
	}
	if c.Mattermost.EscapeOpen == "" && c.Mattermost.EscapeClose == "" {
		c.Mattermost.EscapeOpen = tweetfmt.DefaultEscapeOpen
		c.Mattermost.EscapeClose = tweetfmt.DefaultEscapeClose
	}
	if c.Database == "" {
		c.Database = "tweetbridge.db"
	}
	if c.Archive.Directory == "" {
		c.Archive.Directory = "archive"
	}
	if c.Archive.RetentionDays <= 0 {
		c.Archive.RetentionDays = int(archive.DefaultRetention / (24 * time.Hour))
	}
	if c.AdminAPIAddr == "" {
		c.AdminAPIAddr = DefaultAdminAPIAddr
	}

	var errs []error
	if c.Twitter.ConsumerKey == "" || c.Twitter.ConsumerSecret == "" {
		errs = append(errs, errors.New("twitter.consumer_key and twitter.consumer_secret are required"))
	}
	if c.Twitter.AccessToken == "" || c.Twitter.AccessSecret == "" {
		errs = append(errs, errors.New("twitter.access_token and twitter.access_secret are required"))
	}
	if u, err := url.Parse(c.Twitter.StreamURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("twitter.stream_url must be an absolute http(s) URL, got %q", c.Twitter.StreamURL))
	}
	if c.Mattermost.ServerURL == "" {
		errs = append(errs, errors.New("mattermost.server_url is required"))
	}
	if c.Mattermost.Token == "" {
		errs = append(errs, errors.New("mattermost.token is required"))
	}
	return errors.Join(errs...)
}

// Credentials returns the stream credentials.
func (c *Config) Credentials() twitter.Credentials {
	return twitter.Credentials{
		ConsumerKey:    c.Twitter.ConsumerKey,
		ConsumerSecret: c.Twitter.ConsumerSecret,
		AccessToken:    c.Twitter.AccessToken,
		AccessSecret:   c.Twitter.AccessSecret,
	}
}

// StallTimeout returns the stream stall timeout.
func (c *Config) StallTimeout() time.Duration {
	return time.Duration(c.Twitter.StallTimeout) * time.Second
}

// Retention returns how long archived posts are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Archive.RetentionDays) * 24 * time.Hour
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "twitter", "consumer_key")
	helper.Copy(up.Str, "twitter", "consumer_secret")
	helper.Copy(up.Str, "twitter", "access_token")
	helper.Copy(up.Str, "twitter", "access_secret")
	helper.Copy(up.Str, "twitter", "stream_url")
	helper.Copy(up.Int, "twitter", "stall_timeout")

	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Int|up.Float, "mattermost", "posts_per_second")
	helper.Copy(up.Str, "mattermost", "escape_open")
	helper.Copy(up.Str, "mattermost", "escape_close")

	helper.Copy(up.Str, "database")
	helper.Copy(up.Str, "archive", "directory")
	helper.Copy(up.Int, "archive", "retention_days")
	helper.Copy(up.Str, "admin_api_addr")

	helper.Copy(up.Map, "logging")
}

// LoadConfig reads the config at path, upgrading it in place against the
// example config, and post-processes it.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Base:           ExampleConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
