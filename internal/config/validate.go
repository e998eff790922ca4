package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks every key the run depends on. The first problem found is
// returned as a *Error.
func (c *Config) Validate() error {
	if c == nil {
		return fieldErr("config", "missing")
	}
	if err := c.validateCampaign(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if s := strings.TrimSpace(c.Report.Schedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			return &Error{Field: "report.schedule", Reason: fmt.Sprintf("invalid schedule %q", s), Err: err}
		}
	}
	return nil
}

func (c *Config) validateCampaign() error {
	if c.NumAccounts < 1 {
		return fieldErr("numAccounts", "must be >= 1 (got %d)", c.NumAccounts)
	}
	if len(c.Numbers) == 0 {
		return fieldErr("numbers", "must be a non-empty list")
	}
	for i, n := range c.Numbers {
		if strings.TrimSpace(n) == "" {
			return fieldErr(fmt.Sprintf("numbers[%d]", i), "must not be empty")
		}
	}
	if strings.TrimSpace(c.Message) == "" {
		return fieldErr("message", "must not be empty")
	}
	if c.DelayBetweenMessagesMs < 0 || c.DelayBetweenMessagesMs > maxDelayMs {
		return fieldErr("delayBetweenMessagesMs", "must be between 0 and %d (got %d)", maxDelayMs, c.DelayBetweenMessagesMs)
	}
	if c.MessagesBeforePause < 1 {
		return fieldErr("messagesBeforePause", "must be >= 1 (got %d)", c.MessagesBeforePause)
	}
	if !(c.PauseDurationMinutes >= 0 && c.PauseDurationMinutes < maxPauseMinutes) {
		return fieldErr("pauseDurationMinutes", "must be between 0 and %g (got %g)", maxPauseMinutes, c.PauseDurationMinutes)
	}
	return nil
}

func (c *Config) validateTransport() error {
	if _, err := parseDuration("transport.pollTimeout", c.Transport.PollTimeout); err != nil {
		return err
	}

	driver := c.TransportDriver()
	switch driver {
	case "memory":
		return nil
	case "telegram", "matrix":
	default:
		return fieldErr("transport.driver", "unknown driver %q", c.Transport.Driver)
	}

	if len(c.Transport.Accounts) < c.NumAccounts {
		return fieldErr("transport.accounts", "%s needs %d accounts, %d configured", driver, c.NumAccounts, len(c.Transport.Accounts))
	}
	for i := 0; i < c.NumAccounts; i++ {
		a := c.Transport.Accounts[i]
		path := fmt.Sprintf("transport.accounts[%d]", i)
		switch driver {
		case "telegram":
			if strings.TrimSpace(a.Token) == "" {
				return fieldErr(path+".token", "required for telegram")
			}
		case "matrix":
			if strings.TrimSpace(a.Homeserver) == "" {
				return fieldErr(path+".homeserver", "required for matrix")
			}
			if strings.TrimSpace(a.UserID) == "" {
				return fieldErr(path+".userId", "required for matrix")
			}
			if strings.TrimSpace(a.AccessToken) == "" {
				return fieldErr(path+".accessToken", "required for matrix")
			}
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	r := c.Logging.Remote
	if !r.Enabled {
		return nil
	}
	if r.Session < 0 || r.Session >= c.NumAccounts {
		return fieldErr("logging.remote.session", "must be in [0,%d) (got %d)", c.NumAccounts, r.Session)
	}
	if strings.TrimSpace(r.Address) == "" {
		return fieldErr("logging.remote.address", "required when remote logging is enabled")
	}
	if r.RatePerSec < 0 {
		return fieldErr("logging.remote.ratePerSec", "must be >= 0")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.StorageDriver() {
	case "none":
		return nil
	case "file", "sqlite":
	default:
		return fieldErr("storage.driver", "unknown driver %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fieldErr("storage.path", "required for driver %q", c.StorageDriver())
	}
	if _, err := parseDuration("storage.busyTimeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	return nil
}
