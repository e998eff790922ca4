package app

import (
	"fmt"
	"time"

	"bulkbot/internal/config"
	"bulkbot/internal/partition"
	"bulkbot/internal/transport"
	"bulkbot/internal/transport/matrix"
	"bulkbot/internal/transport/memory"
	"bulkbot/internal/transport/telegram"
	"bulkbot/pkg/logx"
)

// Plan splits the recipients across the configured accounts. Partition i is
// sent through session i.
func Plan(c config.Campaign) ([][]string, error) {
	return partition.Split(c.Numbers, c.NumAccounts)
}

// newFactory builds the transport factory for the configured driver. Only
// the first numAccounts accounts are used.
func newFactory(cfg *config.Config, log logx.Logger) (transport.Factory, error) {
	n := cfg.NumAccounts
	accounts := cfg.Transport.Accounts
	if len(accounts) > n {
		accounts = accounts[:n]
	}

	switch driver := cfg.TransportDriver(); driver {
	case "telegram":
		poll, err := config.DurationOr("transport.pollTimeout", cfg.Transport.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tc := make([]telegram.Config, 0, len(accounts))
		for _, a := range accounts {
			tc = append(tc, telegram.Config{Token: a.Token, PollTimeout: poll})
		}
		return telegram.Factory{Accounts: tc, Log: log}, nil

	case "matrix":
		mc := make([]matrix.Config, 0, len(accounts))
		for _, a := range accounts {
			mc = append(mc, matrix.Config{Homeserver: a.Homeserver, UserID: a.UserID, AccessToken: a.AccessToken})
		}
		return matrix.Factory{Accounts: mc, Log: log}, nil

	case "memory":
		ids := make([]string, 0, len(accounts))
		for _, a := range accounts {
			ids = append(ids, a.Identity)
		}
		log.Warn("memory transport selected; nothing leaves this process")
		return memory.NewNetwork().Factory(ids...), nil

	default:
		return nil, fmt.Errorf("unknown transport.driver: %s", driver)
	}
}
