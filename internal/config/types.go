package config

import (
	"strings"
	"time"
)

// Config is the on-disk configuration. Campaign keys sit at the top level and
// keep the camelCase names used by existing config.json files.
type Config struct {
	NumAccounts            int      `json:"numAccounts"`
	Numbers                []string `json:"numbers"`
	Message                string   `json:"message"`
	DelayBetweenMessagesMs int64    `json:"delayBetweenMessagesMs"`
	MessagesBeforePause    int      `json:"messagesBeforePause"`
	PauseDurationMinutes   float64  `json:"pauseDurationMinutes"`

	// QRTimeoutMs is accepted so older config files keep decoding under
	// DisallowUnknownFields. Session bring-up does not time out.
	QRTimeoutMs int64 `json:"qrTimeoutMs,omitempty"`

	Transport TransportConfig `json:"transport"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Report    ReportConfig    `json:"report,omitempty"`
	Shell     ShellConfig     `json:"shell,omitempty"`
}

// TransportConfig selects the messaging backend and its accounts.
//
// Example:
//
//	"transport": {
//	  "driver": "telegram",
//	  "pollTimeout": "10s",
//	  "accounts": [{ "token": "123:abc" }, { "token": "456:def" }]
//	}
type TransportConfig struct {
	Driver   string          `json:"driver"`
	Accounts []AccountConfig `json:"accounts,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "1m").
	PollTimeout string `json:"pollTimeout,omitempty"`
}

// AccountConfig holds the credentials of one session. Which fields apply
// depends on the driver.
type AccountConfig struct {
	// telegram
	Token string `json:"token,omitempty"`

	// matrix
	Homeserver  string `json:"homeserver,omitempty"`
	UserID      string `json:"userId,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`

	// memory
	Identity string `json:"identity,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Remote  LoggingRemote `json:"remote"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRemote forwards warnings to an operator address through one of the
// campaign sessions.
type LoggingRemote struct {
	Enabled    bool   `json:"enabled"`
	Session    int    `json:"session"`
	Address    string `json:"address"`
	MinLevel   string `json:"minLevel"`
	RatePerSec int    `json:"ratePerSec"`
}

// StorageConfig controls the delivery audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./audit.db", "busyTimeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busyTimeout,omitempty"` // Go duration string (sqlite)
}

// ReportConfig schedules the periodic progress report. Schedule is a cron
// spec or descriptor such as "@every 1m". Empty disables the report.
type ReportConfig struct {
	Schedule string `json:"schedule,omitempty"`
}

type ShellConfig struct {
	// Enabled is a pointer so an omitted section keeps the interactive shell on.
	Enabled *bool `json:"enabled,omitempty"`
}

// Campaign is the resolved, immutable view of the campaign keys.
type Campaign struct {
	NumAccounts         int
	Numbers             []string
	Message             string
	Delay               time.Duration
	MessagesBeforePause int
	PauseDuration       time.Duration
}

// Campaign resolves the campaign keys into durations. Call Validate first.
func (c *Config) Campaign() Campaign {
	numbers := make([]string, 0, len(c.Numbers))
	for _, n := range c.Numbers {
		numbers = append(numbers, strings.TrimSpace(n))
	}
	return Campaign{
		NumAccounts:         c.NumAccounts,
		Numbers:             numbers,
		Message:             c.Message,
		Delay:               millis(c.DelayBetweenMessagesMs),
		MessagesBeforePause: c.MessagesBeforePause,
		PauseDuration:       minutes(c.PauseDurationMinutes),
	}
}

// ShellEnabled reports whether the interactive operator shell should run.
func (c *Config) ShellEnabled() bool {
	if c.Shell.Enabled == nil {
		return true
	}
	return *c.Shell.Enabled
}

// StorageDriver returns the normalized audit driver name ("none" when unset).
func (c *Config) StorageDriver() string {
	if c.Storage == nil {
		return "none"
	}
	d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if d == "" {
		return "none"
	}
	return d
}

// TransportDriver returns the normalized driver name ("memory" when unset).
func (c *Config) TransportDriver() string {
	d := strings.ToLower(strings.TrimSpace(c.Transport.Driver))
	if d == "" {
		return "memory"
	}
	return d
}
