// Package config loads the API server configuration from environment
// variables. The caller owns the resulting value; nothing here is
// global state.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the API server needs. Mail and Slack are
// optional feature blocks: signup mail requires the SMTP fields, the
// Slack notifier requires both Slack fields.
type Config struct {
	// Database is the path to the sqlite reporting database.
	Database string

	// AdminEmails are the administrator contact addresses, lowercased
	// and deduplicated in input order. The first one is the mail
	// sender and the SMTP login identity.
	AdminEmails   []string
	AdminPassword string
	SMTPHost      string
	SMTPPort      int

	// AdminSlack is the admin Slack channel shown on the root
	// endpoint.
	AdminSlack string

	// Days is the default report range when no explicit markers are
	// given.
	Days int

	// NotifyOnSignup copies the admins on every UUID reminder.
	NotifyOnSignup bool

	// Event detection over the overall activity stream.
	EventsEnable     bool
	EventWindow      int
	EventMinGrowth   float64
	EventMinInterval time.Duration

	// Slack signup notifications.
	SlackBotToken string
	SlackChannel  string

	// StaleAfter is the snapshot age past which readiness fails.
	StaleAfter time.Duration
}

// Load reads the configuration from the environment, applying
// defaults where the variable is unset.
func Load() (Config, error) {
	cfg := Config{
		Database:         os.Getenv("DATABASE"),
		AdminEmails:      parseEmails(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:    os.Getenv("ADMIN_PASSWORD"),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		AdminSlack:       os.Getenv("ADMIN_SLACK"),
		SlackBotToken:    os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:     os.Getenv("SLACK_CHANNEL"),
		Days:             14,
		EventsEnable:     true,
		EventWindow:      8,
		EventMinGrowth:   1.5,
		EventMinInterval: time.Hour,
		StaleAfter:       2 * time.Hour,
	}

	var err error
	if cfg.SMTPPort, err = envInt("SMTP_PORT", 0); err != nil {
		return Config{}, err
	}
	if cfg.Days, err = envInt("DAYS", cfg.Days); err != nil {
		return Config{}, err
	}
	if cfg.NotifyOnSignup, err = envBool("NOTIFY_ON_SIGNUP", false); err != nil {
		return Config{}, err
	}
	if cfg.EventsEnable, err = envBool("EVENTS_ENABLE", true); err != nil {
		return Config{}, err
	}
	if cfg.EventWindow, err = envInt("EVENT_WINDOW", cfg.EventWindow); err != nil {
		return Config{}, err
	}
	if cfg.EventMinGrowth, err = envFloat("EVENT_MIN_GROWTH", cfg.EventMinGrowth); err != nil {
		return Config{}, err
	}
	if cfg.EventMinInterval, err = envDuration("EVENT_MIN_INTERVAL", cfg.EventMinInterval); err != nil {
		return Config{}, err
	}
	if cfg.StaleAfter, err = envDuration("STALE_AFTER", cfg.StaleAfter); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Database == "" {
		return errors.New("DATABASE is required")
	}
	if c.Days <= 0 {
		return errors.New("DAYS must be positive")
	}
	if c.EventWindow < 2 {
		return errors.New("EVENT_WINDOW must be at least 2")
	}
	if c.EventMinGrowth <= 1 {
		return errors.New("EVENT_MIN_GROWTH must be greater than 1")
	}
	if (c.SlackBotToken == "") != (c.SlackChannel == "") {
		return errors.New("SLACK_BOT_TOKEN and SLACK_CHANNEL must be set together")
	}
	return nil
}

// MailEnabled reports whether signup mail can be sent.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPPort > 0 && len(c.AdminEmails) > 0
}

// SlackEnabled reports whether signup Slack notifications can be sent.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// AdminEmail returns the primary admin contact, empty when none is
// configured.
func (c *Config) AdminEmail() string {
	if len(c.AdminEmails) == 0 {
		return ""
	}
	return c.AdminEmails[0]
}

func parseEmails(raw string) []string {
	var emails []string
	seen := make(map[string]struct{})
	for _, e := range strings.Split(raw, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		emails = append(emails, e)
	}
	return emails
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envBool(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
