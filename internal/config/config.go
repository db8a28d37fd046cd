package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for deskwatch
type Config struct {
	// Backend REST API root, e.g. https://support.example.com/api
	APIBaseURL string `json:"api_base_url" yaml:"api_base_url"`
	// Realtime channel endpoint, e.g. wss://support.example.com/ws
	WebSocketURL string `json:"websocket_url" yaml:"websocket_url"`
	Username     string `json:"username" yaml:"username"`
	Password     string `json:"password" yaml:"password"`

	// Fixed delay between a dropped socket and the next connection attempt
	ReconnectDelay time.Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
	// Zero means no handshake timeout
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	// When set, the access token is also sent as this query parameter on the socket URL
	TokenQueryParam string `json:"token_query_param" yaml:"token_query_param"`
	// How long before access token expiry the session refreshes it
	RefreshLead time.Duration `json:"refresh_lead" yaml:"refresh_lead"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFile   string `json:"log_file" yaml:"log_file"`
	LogPretty bool   `json:"log_pretty" yaml:"log_pretty"`

	// Metrics and status endpoint
	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsPort    int  `json:"metrics_port" yaml:"metrics_port"`

	// InfluxDB (push)
	InfluxURL      string        `json:"influx_url" yaml:"influx_url"`
	InfluxToken    string        `json:"influx_token" yaml:"influx_token"`
	InfluxOrg      string        `json:"influx_org" yaml:"influx_org"`
	InfluxBucket   string        `json:"influx_bucket" yaml:"influx_bucket"`
	InfluxInterval time.Duration `json:"influx_interval" yaml:"influx_interval"`

	// Alert toast providers
	DiscordWebhook    string   `json:"discord_webhook" yaml:"discord_webhook"`
	SlackWebhook      string   `json:"slack_webhook" yaml:"slack_webhook"`
	TeamsWebhook      string   `json:"teams_webhook" yaml:"teams_webhook"`
	TelegramToken     string   `json:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `json:"telegram_chat_id" yaml:"telegram_chat_id"`
	GenericWebhookURL string   `json:"generic_webhook_url" yaml:"generic_webhook_url"`
	GotifyURL         string   `json:"gotify_url" yaml:"gotify_url"`
	GotifyToken       string   `json:"gotify_token" yaml:"gotify_token"`
	PushoverUser      string   `json:"pushover_user" yaml:"pushover_user"`
	PushoverToken     string   `json:"pushover_token" yaml:"pushover_token"`
	AppriseURL        string   `json:"apprise_url" yaml:"apprise_url"`
	EmailHost         string   `json:"email_host" yaml:"email_host"`
	EmailPort         int      `json:"email_port" yaml:"email_port"`
	EmailUser         string   `json:"email_user" yaml:"email_user"`
	EmailPass         string   `json:"email_pass" yaml:"email_pass"`
	EmailTo           []string `json:"email_to" yaml:"email_to"`
	// Minimum gap between two toasts to the same provider
	NotifyCooldown time.Duration `json:"notify_cooldown" yaml:"notify_cooldown"`

	// NATS republishing of inbound frames
	NATSURL           string   `json:"nats_url" yaml:"nats_url"`
	NATSSubjectPrefix string   `json:"nats_subject_prefix" yaml:"nats_subject_prefix"`
	NATSForwardTypes  []string `json:"nats_forward_types" yaml:"nats_forward_types"`

	// Alert inbox persistence
	StateDir  string `json:"state_dir" yaml:"state_dir"`
	InboxSize int    `json:"inbox_size" yaml:"inbox_size"`

	// Dry-run: log toasts instead of delivering them
	DryRun bool `json:"dry_run" yaml:"dry_run"`
}

// DefaultConfig returns a sane default configuration
func DefaultConfig() *Config {
	return &Config{
		ReconnectDelay:   3 * time.Second,
		HandshakeTimeout: 0,
		RefreshLead:      time.Minute,

		LogLevel: "info",

		MetricsEnabled: false,
		MetricsPort:    9090,

		InfluxInterval: time.Minute,

		EmailPort: 587,

		NATSSubjectPrefix: "deskwatch",

		InboxSize: 50,
	}
}

// Validate returns a list of non-fatal configuration warnings, such as
// incomplete notifier credential combinations.
func (c *Config) Validate() []string {
	var warnings []string
	checks := []struct {
		cond bool
		msg  string
	}{
		{c.APIBaseURL == "", "api base URL is empty; login will fail"},
		{c.WebSocketURL == "", "websocket URL is empty; the realtime channel cannot connect"},
		{c.Username == "" || c.Password == "", "username or password is empty"},
		{c.ReconnectDelay <= 0, "reconnect delay must be positive; the default will be used"},
		{c.GotifyURL != "" && c.GotifyToken == "", "gotify URL provided but token is missing"},
		{c.GotifyToken != "" && c.GotifyURL == "", "gotify token provided but URL is missing"},
		{c.PushoverUser != "" && c.PushoverToken == "", "pushover user provided but token is missing"},
		{c.PushoverToken != "" && c.PushoverUser == "", "pushover token provided but user is missing"},
		{c.TelegramToken != "" && c.TelegramChatID == "", "telegram token provided but chat id is missing"},
		{c.EmailHost != "" && len(c.EmailTo) == 0, "email host provided but no recipients configured (EmailTo)"},
		{c.EmailHost == "" && len(c.EmailTo) > 0, "email recipients configured but email host is empty"},
		{len(c.NATSForwardTypes) > 0 && c.NATSURL == "", "nats forward types configured but nats URL is empty"},
	}
	for _, ch := range checks {
		if ch.cond {
			warnings = append(warnings, ch.msg)
		}
	}
	if w := validateSocketURL(c.WebSocketURL); w != "" {
		warnings = append(warnings, w)
	}
	return warnings
}

// validateSocketURL returns a warning when the socket URL is set but not a ws:// or wss:// URL.
func validateSocketURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Sprintf("invalid websocket URL: %q (expected ws:// or wss://)", raw)
	}
	return ""
}

// LoadConfigFromFile loads config from a YAML/JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
