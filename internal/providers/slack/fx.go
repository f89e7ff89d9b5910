package slack

import (
	"github.com/offsetsdb/offsetsdb/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.slack",
	fx.Provide(func(cfg config.Config) Provider {
		if cfg.SlackWebhookURL == "" {
			return &NoOpProvider{}
		}
		return NewWebhookProvider(cfg.SlackWebhookURL)
	}),
)
