package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overrides secrets and deployment-specific values from the environment.
func ApplyEnv(cfg *AppConfig) error {
	if v := os.Getenv("OPENWRITE_DATABASE_DSN"); v != "" {
		cfg.Server.DatabaseDSN = v
	}
	if v := os.Getenv("OPENWRITE_API_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("OPENWRITE_SUBMISSION_URL"); v != "" {
		cfg.Sinks.SubmissionURL = v
	}
	if v := os.Getenv("OPENWRITE_NOTIFICATION_URL"); v != "" {
		cfg.Sinks.NotificationURL = v
	}
	if v := os.Getenv("OPENWRITE_SUBSCRIBE_URL"); v != "" {
		cfg.Sinks.SubscribeURL = v
	}
	if v := os.Getenv("OPENWRITE_PROMPT_URL"); v != "" {
		cfg.Prompts.Source = "remote"
		cfg.Prompts.RemoteURL = v
	}
	if v := os.Getenv("OPENWRITE_REQUIRE_SIGN_IN"); v != "" {
		cfg.Writing.RequireSignIn = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("OPENWRITE_SMTP_HOST"); v != "" {
		cfg.Mail.Host = v
	}
	if v := os.Getenv("OPENWRITE_SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			return fmt.Errorf("invalid OPENWRITE_SMTP_PORT: %q", v)
		}
		cfg.Mail.Port = port
	}
	if v := os.Getenv("OPENWRITE_SMTP_USERNAME"); v != "" {
		cfg.Mail.Username = v
	}
	if v := os.Getenv("OPENWRITE_SMTP_PASSWORD"); v != "" {
		cfg.Mail.Password = v
	}
	return nil
}

// BotToken reads TELEGRAM_BOT_TOKEN.
func BotToken() (string, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return "", fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable not set")
	}
	return token, nil
}
