package groupsign

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Config is the plugin section under plugins.groupsign.config.
type Config struct {
	Sign        SignConfig        `json:"sign"`
	Messages    MessagesConfig    `json:"messages"`
	Permissions PermissionsConfig `json:"permissions"`
	API         APIConfig         `json:"api"`
	Summary     SummaryConfig     `json:"summary"`
}

type SignConfig struct {
	Groups []string `json:"groups"`
	// CheckInterval is the polling cadence in seconds.
	CheckInterval int `json:"check_interval"`
	// ReminderTime is the daily fire target as HH:MM.
	ReminderTime string `json:"reminder_time"`
	AutoStart    bool   `json:"auto_start"`
	// StartupDelay is a Go duration string applied before auto-start.
	StartupDelay string `json:"startup_delay"`
}

type MessagesConfig struct {
	SignReminder string `json:"sign_reminder"`
	SignSummary  string `json:"sign_summary"`
}

type PermissionsConfig struct {
	AdminUserIDs []int64 `json:"admin_user_ids"`
}

type APIConfig struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Token string `json:"token"`
	// Timeout is a Go duration string.
	Timeout string `json:"timeout"`
}

type SummaryConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is the daily summary time as HH:MM.
	Schedule string `json:"schedule"`
}

const (
	defaultCheckInterval = 3600
	defaultReminderTime  = "09:00"
	defaultAPIPort       = 3000
	defaultAPITimeout    = 10 * time.Second
)

// withDefaults fills every zero field so callers can always rely on a
// usable config, even when the section is missing or partial.
func (c Config) withDefaults() Config {
	if c.Sign.Groups == nil {
		c.Sign.Groups = []string{}
	}
	if c.Sign.CheckInterval <= 0 {
		c.Sign.CheckInterval = defaultCheckInterval
	}
	if !validHHMM(c.Sign.ReminderTime) {
		c.Sign.ReminderTime = defaultReminderTime
	}
	if c.Messages.SignReminder == "" {
		c.Messages.SignReminder = "🔔 Daily check-in starting for %d group(s)"
	}
	if c.Messages.SignSummary == "" {
		c.Messages.SignSummary = "📋 Check-in done: %d ok, %d failed"
	}
	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port <= 0 {
		c.API.Port = defaultAPIPort
	}
	if c.API.Timeout == "" {
		c.API.Timeout = "10s"
	}
	if !validHHMM(c.Summary.Schedule) {
		c.Summary.Schedule = "21:00"
	}
	return c
}

// parseConfig strictly decodes the raw section. Unknown fields are
// rejected so typos fail at reload time instead of being ignored.
func parseConfig(raw json.RawMessage) (Config, error) {
	var c Config
	if len(raw) == 0 {
		return c.withDefaults(), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, err
	}
	return c.withDefaults(), nil
}

// validate rejects values that withDefaults cannot sensibly repair.
func (c Config) validate() error {
	if c.Sign.ReminderTime != "" && !validHHMM(c.Sign.ReminderTime) {
		return fmt.Errorf("sign.reminder_time: must be HH:MM, got %q", c.Sign.ReminderTime)
	}
	if c.Summary.Schedule != "" && !validHHMM(c.Summary.Schedule) {
		return fmt.Errorf("summary.schedule: must be HH:MM, got %q", c.Summary.Schedule)
	}
	if c.Sign.StartupDelay != "" {
		if _, err := time.ParseDuration(c.Sign.StartupDelay); err != nil {
			return fmt.Errorf("sign.startup_delay: %w", err)
		}
	}
	if c.API.Timeout != "" {
		if _, err := time.ParseDuration(c.API.Timeout); err != nil {
			return fmt.Errorf("api.timeout: %w", err)
		}
	}
	for _, g := range c.Sign.Groups {
		if !groupIDRe.MatchString(g) {
			return fmt.Errorf("sign.groups: invalid group id %q", g)
		}
	}
	return nil
}

func (c Config) apiTimeout() time.Duration {
	d, err := time.ParseDuration(c.API.Timeout)
	if err != nil || d <= 0 {
		return defaultAPITimeout
	}
	return d
}

func (c Config) startupDelay() time.Duration {
	if c.Sign.StartupDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Sign.StartupDelay)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func validHHMM(s string) bool {
	if s == "" {
		return false
	}
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	return err == nil && t.Format("15:04") == strings.TrimSpace(s)
}
