package config

import "time"

// ProviderTimeouts centralizes timeout configuration for provider calls.
//
// In Go, the shortest timeout in a call chain wins: an HTTP client with a
// 10-minute timeout wrapped in a 90-second context still fails at 90 seconds.
// Every provider adapter should derive its context from these values rather
// than hard-coding its own.
type ProviderTimeouts struct {
	HTTPClientTimeout time.Duration `yaml:"http_client_timeout"`
	PerCallTimeout    time.Duration `yaml:"per_call_timeout"`
	StreamingTimeout  time.Duration `yaml:"streaming_timeout"`
	RetryBackoffBase  time.Duration `yaml:"retry_backoff_base"`
	RetryBackoffMax   time.Duration `yaml:"retry_backoff_max"`
	MaxRetries        int           `yaml:"max_retries"`
	RateLimitDelay    time.Duration `yaml:"rate_limit_delay"`
}

// DefaultProviderTimeouts returns sensible defaults for cloud LLM APIs.
func DefaultProviderTimeouts() ProviderTimeouts {
	return ProviderTimeouts{
		HTTPClientTimeout: 2 * time.Minute,
		PerCallTimeout:    2 * time.Minute,
		StreamingTimeout:  5 * time.Minute,
		RetryBackoffBase:  1 * time.Second,
		RetryBackoffMax:   30 * time.Second,
		MaxRetries:        3,
		RateLimitDelay:    200 * time.Millisecond,
	}
}
