// internal/workers/ordering/resolve-order-message/config.go
package resolveordermessage

import (
	"time"

	"order-workers/internal/common/camunda"
	"order-workers/internal/common/config"
)

type Config struct {
	// Timeout bounds one job from lock acquisition to commit.
	Timeout            time.Duration
	ContinuationWindow time.Duration
	CompleteRetry      camunda.RetryConfig
}

func LoadConfig(cfg *config.Config) *Config {
	c := &Config{
		Timeout:            30 * time.Second,
		ContinuationWindow: 10 * time.Minute,
		CompleteRetry:      camunda.DefaultRetryConfig,
	}
	if cfg == nil {
		return c
	}
	wcfg := config.GetWorkerConfig(cfg, TaskType)
	if wcfg.Timeout > 0 {
		c.Timeout = config.GetDuration(wcfg.Timeout)
	}
	if wcfg.MaxRetries > 0 {
		c.CompleteRetry.MaxRetries = wcfg.MaxRetries
	}
	if cfg.Resolution.ContinuationWindow > 0 {
		c.ContinuationWindow = config.GetDuration(cfg.Resolution.ContinuationWindow)
	}
	return c
}
