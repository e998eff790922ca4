package config

import (
	"reflect"
	"sort"
	"strings"

	"bulkbot/pkg/logx"
)

// Change describes what differs between two snapshots.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Attrs are safe structured log fields (never tokens).
	Attrs []logx.Field
	// RestartRequired is set when anything besides logging changed; only the
	// logging section is applied to a running process.
	RestartRequired bool
}

// SummarizeChange compares two snapshots. A nil side is treated as empty.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var ch Change

	if !reflect.DeepEqual(oldCfg.Campaign(), newCfg.Campaign()) {
		ch.Sections = append(ch.Sections, "campaign")
		ch.Attrs = append(ch.Attrs,
			logx.Int("campaign.num_accounts", newCfg.NumAccounts),
			logx.Int("campaign.numbers", len(newCfg.Numbers)),
		)
	}

	// Never log credentials; only shape.
	if oldCfg.TransportDriver() != newCfg.TransportDriver() ||
		strings.TrimSpace(oldCfg.Transport.PollTimeout) != strings.TrimSpace(newCfg.Transport.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Transport.Accounts, newCfg.Transport.Accounts) {
		ch.Sections = append(ch.Sections, "transport")
		ch.Attrs = append(ch.Attrs,
			logx.String("transport.driver", newCfg.TransportDriver()),
			logx.Int("transport.accounts", len(newCfg.Transport.Accounts)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.remote_enabled", newCfg.Logging.Remote.Enabled),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		ch.Sections = append(ch.Sections, "storage")
		ch.Attrs = append(ch.Attrs, logx.String("storage.driver", newCfg.StorageDriver()))
	}

	if strings.TrimSpace(oldCfg.Report.Schedule) != strings.TrimSpace(newCfg.Report.Schedule) {
		ch.Sections = append(ch.Sections, "report")
		ch.Attrs = append(ch.Attrs, logx.String("report.schedule", strings.TrimSpace(newCfg.Report.Schedule)))
	}

	if oldCfg.ShellEnabled() != newCfg.ShellEnabled() {
		ch.Sections = append(ch.Sections, "shell")
	}

	sort.Strings(ch.Sections)
	for _, s := range ch.Sections {
		if s != "logging" {
			ch.RestartRequired = true
			break
		}
	}
	return ch
}

// LogConfig converts the logging section into logx settings.
func (l LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Remote: logx.RemoteConfig{
			Enabled:    l.Remote.Enabled,
			MinLevel:   l.Remote.MinLevel,
			RatePerSec: l.Remote.RatePerSec,
		},
	}
}
