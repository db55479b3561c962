// Package config provides functional options shared by every provider constructor.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Default client settings. A zero Timeout leaves requests unbounded; callers
// bound them through the context or WithTimeout.
const defaultMaxRetries = 0

// Config holds the resolved client configuration for a provider.
type Config struct {
	APIKey     string
	BaseURL    string
	Headers    map[string]string
	MaxRetries int
	Timeout    time.Duration

	httpClient *http.Client
}

// Option configures a Config.
type Option func(*Config) error

// New creates a Config with defaults and applies the given options in order.
func New(opts ...Option) (*Config, error) {
	cfg := &Config{
		MaxRetries: defaultMaxRetries,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// WithAPIKey sets the API key, taking precedence over any environment variable.
func WithAPIKey(key string) Option {
	return func(c *Config) error {
		c.APIKey = key
		return nil
	}
}

// WithBaseURL sets the API base URL, taking precedence over any environment variable.
func WithBaseURL(baseURL string) Option {
	return func(c *Config) error {
		if baseURL == "" {
			c.BaseURL = ""
			return nil
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return fmt.Errorf("parsing base URL %q: %w", baseURL, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base URL %q must be absolute", baseURL)
		}
		c.BaseURL = baseURL
		return nil
	}
}

// WithTimeout sets the request timeout used by the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout < 0 {
			return errors.New("timeout must not be negative")
		}
		c.Timeout = timeout
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for all requests.
// When set, WithTimeout has no effect.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) error {
		if client == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = client
		return nil
	}
}

// WithHeaders adds headers sent with every request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Config) error {
		if c.Headers == nil {
			c.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			c.Headers[k] = v
		}
		return nil
	}
}

// WithMaxRetries sets how many times the client retries a failed request.
// The default is zero: a failed request is reported immediately.
func WithMaxRetries(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return errors.New("max retries must not be negative")
		}
		c.MaxRetries = n
		return nil
	}
}

// ResolveAPIKey returns the explicit API key, or the value of envVar when none was set.
func (c *Config) ResolveAPIKey(envVar string) string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return c.ResolveEnv(envVar)
}

// ResolveBaseURL returns the explicit base URL, or the value of envVar when none was set.
func (c *Config) ResolveBaseURL(envVar string) string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return c.ResolveEnv(envVar)
}

// ResolveEnv returns the value of envVar, or an empty string if envVar is empty or unset.
func (c *Config) ResolveEnv(envVar string) string {
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// HTTPClient returns the configured HTTP client, or a new one using Timeout.
// With a zero Timeout the returned client never times out on its own.
func (c *Config) HTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: c.Timeout}
}
