package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing files
// are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnvOverrides reads configuration values from environment variables and
// overrides fields in the provided Config. Returns an error if parsing fails.
//
// Environment variables supported:
// - DESKWATCH_API_BASE_URL, DESKWATCH_WEBSOCKET_URL (string)
// - DESKWATCH_USERNAME, DESKWATCH_PASSWORD (string)
// - DESKWATCH_RECONNECT_DELAY, DESKWATCH_HANDSHAKE_TIMEOUT, DESKWATCH_REFRESH_LEAD (duration, e.g. "3s")
// - DESKWATCH_TOKEN_QUERY_PARAM (string)
// - DESKWATCH_LOG_LEVEL, DESKWATCH_LOG_FILE (string), DESKWATCH_LOG_PRETTY (bool)
// - DESKWATCH_METRICS_ENABLED (bool), DESKWATCH_METRICS_PORT (int)
// - DESKWATCH_INFLUX_URL, _TOKEN, _ORG, _BUCKET (string), DESKWATCH_INFLUX_INTERVAL (duration)
// - DESKWATCH_NATS_URL, DESKWATCH_NATS_SUBJECT_PREFIX (string), DESKWATCH_NATS_FORWARD_TYPES (comma list)
// - DESKWATCH_STATE_DIR (string), DESKWATCH_INBOX_SIZE (int), DESKWATCH_DRY_RUN (bool)
// - notifier credentials, see applyNotificationEnv and applyEmailEnv
func ApplyEnvOverrides(cfg *Config) error {
	steps := []func(*Config) error{
		applyConnectionEnv,
		applyLoggingEnv,
		applyNotificationEnv,
		applyEmailEnv,
		applyMetricsEnv,
		applyInfluxEnv,
		applyNATSEnv,
		applyStateEnv,
	}
	for _, step := range steps {
		if err := step(cfg); err != nil {
			return err
		}
	}
	return nil
}

func applyConnectionEnv(cfg *Config) error {
	setStringEnv("DESKWATCH_API_BASE_URL", &cfg.APIBaseURL)
	setStringEnv("DESKWATCH_WEBSOCKET_URL", &cfg.WebSocketURL)
	setStringEnv("DESKWATCH_USERNAME", &cfg.Username)
	setStringEnv("DESKWATCH_PASSWORD", &cfg.Password)
	setStringEnv("DESKWATCH_TOKEN_QUERY_PARAM", &cfg.TokenQueryParam)
	if err := setDurationEnv("DESKWATCH_RECONNECT_DELAY", &cfg.ReconnectDelay); err != nil {
		return err
	}
	if err := setDurationEnv("DESKWATCH_HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout); err != nil {
		return err
	}
	return setDurationEnv("DESKWATCH_REFRESH_LEAD", &cfg.RefreshLead)
}

func applyLoggingEnv(cfg *Config) error {
	setStringEnv("DESKWATCH_LOG_LEVEL", &cfg.LogLevel)
	setStringEnv("DESKWATCH_LOG_FILE", &cfg.LogFile)
	return setBoolEnv("DESKWATCH_LOG_PRETTY", func(b bool) { cfg.LogPretty = b })
}

// applyNotificationEnv consolidates toast-provider env parsing
func applyNotificationEnv(cfg *Config) error {
	setStringEnv("DESKWATCH_DISCORD_WEBHOOK", &cfg.DiscordWebhook)
	setStringEnv("DESKWATCH_SLACK_WEBHOOK", &cfg.SlackWebhook)
	setStringEnv("DESKWATCH_TEAMS_WEBHOOK", &cfg.TeamsWebhook)
	setStringEnv("DESKWATCH_TELEGRAM_TOKEN", &cfg.TelegramToken)
	setStringEnv("DESKWATCH_TELEGRAM_CHAT_ID", &cfg.TelegramChatID)
	setStringEnv("DESKWATCH_GENERIC_WEBHOOK_URL", &cfg.GenericWebhookURL)
	setStringEnv("DESKWATCH_GOTIFY_URL", &cfg.GotifyURL)
	setStringEnv("DESKWATCH_GOTIFY_TOKEN", &cfg.GotifyToken)
	setStringEnv("DESKWATCH_PUSHOVER_USER", &cfg.PushoverUser)
	setStringEnv("DESKWATCH_PUSHOVER_TOKEN", &cfg.PushoverToken)
	setStringEnv("DESKWATCH_APPRISE_URL", &cfg.AppriseURL)
	return setDurationEnv("DESKWATCH_NOTIFY_COOLDOWN", &cfg.NotifyCooldown)
}

// applyEmailEnv consolidates email-related env parsing
func applyEmailEnv(cfg *Config) error {
	setStringEnv("DESKWATCH_EMAIL_HOST", &cfg.EmailHost)
	setStringEnv("DESKWATCH_EMAIL_USER", &cfg.EmailUser)
	setStringEnv("DESKWATCH_EMAIL_PASS", &cfg.EmailPass)
	if err := setIntEnv("DESKWATCH_EMAIL_PORT", &cfg.EmailPort); err != nil {
		return err
	}
	if v := os.Getenv("DESKWATCH_EMAIL_TO"); v != "" {
		cfg.EmailTo = splitList(v)
	}
	return nil
}

// applyMetricsEnv consolidates metrics-related env parsing
func applyMetricsEnv(cfg *Config) error {
	if err := setBoolEnv("DESKWATCH_METRICS_ENABLED", func(b bool) { cfg.MetricsEnabled = b }); err != nil {
		return err
	}
	return setIntEnv("DESKWATCH_METRICS_PORT", &cfg.MetricsPort)
}

// applyInfluxEnv consolidates Influx-related env parsing
func applyInfluxEnv(cfg *Config) error {
	setStringEnv("DESKWATCH_INFLUX_URL", &cfg.InfluxURL)
	setStringEnv("DESKWATCH_INFLUX_TOKEN", &cfg.InfluxToken)
	setStringEnv("DESKWATCH_INFLUX_ORG", &cfg.InfluxOrg)
	setStringEnv("DESKWATCH_INFLUX_BUCKET", &cfg.InfluxBucket)
	return setDurationEnv("DESKWATCH_INFLUX_INTERVAL", &cfg.InfluxInterval)
}

func applyNATSEnv(cfg *Config) error {
	setStringEnv("DESKWATCH_NATS_URL", &cfg.NATSURL)
	setStringEnv("DESKWATCH_NATS_SUBJECT_PREFIX", &cfg.NATSSubjectPrefix)
	if v := os.Getenv("DESKWATCH_NATS_FORWARD_TYPES"); v != "" {
		cfg.NATSForwardTypes = splitList(v)
	}
	return nil
}

func applyStateEnv(cfg *Config) error {
	setStringEnv("DESKWATCH_STATE_DIR", &cfg.StateDir)
	if err := setIntEnv("DESKWATCH_INBOX_SIZE", &cfg.InboxSize); err != nil {
		return err
	}
	return setBoolEnv("DESKWATCH_DRY_RUN", func(b bool) { cfg.DryRun = b })
}

func setStringEnv(env string, dst *string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// setBoolEnv is a small helper to parse boolean environment variables
func setBoolEnv(env string, setter func(bool)) error {
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(b)
	}
	return nil
}

func setIntEnv(env string, dst *int) error {
	if v := os.Getenv(env); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		*dst = n
	}
	return nil
}

func setDurationEnv(env string, dst *time.Duration) error {
	if v := os.Getenv(env); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		*dst = d
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
