package module

import (
	"fmt"
	"strings"
	"time"

	"gantry/internal/platform/config"
)

// Options is one queue's env-sourced configuration, read from
// GANTRY_QUEUE_<NAME>_* per the configuration table, the generalization of
// the teacher's fixed cfg.Prefix("BOUNCER_") convention to a runtime-chosen
// queue name
type Options struct {
	Name                        string
	Description                 string
	SelfURL                     string
	RatelimitSpec               string
	ConcurrentRequests          int
	MaxRetries                  int
	ProcessingStartupDelay      time.Duration
	RetryBackoffSpec            string
	SecureHeaderName            string
	SecureHeaderValue           string
	MaxProcessingTimePerRequest time.Duration
	OldTaskLingerTime           time.Duration
}

// FromConfig reads name's queue configuration. SelfUrl falls back to
// CEEN_SELF_HTTPS_URL then CEEN_SELF_HTTP_URL when the per-queue override is
// blank, per the environment fallback rule.
func FromConfig(cfg config.Conf, name string) Options {
	c := cfg.Prefix(fmt.Sprintf("GANTRY_QUEUE_%s_", strings.ToUpper(name)))

	selfURL := c.MayString("SELF_URL", "")
	if selfURL == "" {
		selfURL = cfg.MayString("CEEN_SELF_HTTPS_URL", "")
	}
	if selfURL == "" {
		selfURL = cfg.MayString("CEEN_SELF_HTTP_URL", "")
	}

	return Options{
		Name:                        name,
		Description:                 c.MayString("DESCRIPTION", ""),
		SelfURL:                     selfURL,
		RatelimitSpec:               c.MayString("RATELIMIT", "10/s"),
		ConcurrentRequests:          c.MayInt("CONCURRENT_REQUESTS", 1),
		MaxRetries:                  c.MayInt("MAX_RETRIES", 5),
		ProcessingStartupDelay:      c.MayDuration("PROCESSING_STARTUP_DELAY", 0),
		RetryBackoffSpec:            c.MayString("RETRY_BACKOFF", "1s; linear 1s; 60s"),
		SecureHeaderName:            c.MayString("SECURE_HEADER_NAME", "X-Gantry-Internal"),
		SecureHeaderValue:           c.MayString("SECURE_HEADER_VALUE", ""),
		MaxProcessingTimePerRequest: c.MayDuration("MAX_PROCESSING_TIME_PER_REQUEST", 30*time.Minute),
		OldTaskLingerTime:           c.MayDuration("OLD_TASK_LINGER_TIME", 24*time.Hour),
	}
}
