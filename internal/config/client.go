package config

import (
	"fmt"
	"net/url"
	"time"
)

type ClientConfig struct {
	BaseURL    *url.URL
	Timeout    time.Duration
	TenantID   string
	RateLimits RateLimits
}

type RateLimits struct {
	Enabled bool
	Rate    float64
	Burst   int
}

func (c ClientConfig) Validate() error {
	if c.BaseURL == nil || c.BaseURL.Host == "" {
		return fmt.Errorf("the base URL of the remote API is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("the client timeout has to be positive, got %s", c.Timeout)
	}
	if c.RateLimits.Enabled && (c.RateLimits.Rate <= 0 || c.RateLimits.Burst <= 0) {
		return fmt.Errorf("rate limits need a positive rate and burst, got %v and %d", c.RateLimits.Rate, c.RateLimits.Burst)
	}
	return nil
}

type ThrottleConfig struct {
	Window        time.Duration
	SweepInterval time.Duration
}

func (c ThrottleConfig) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("the throttle window has to be positive, got %s", c.Window)
	}
	return nil
}

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("the number of retries cannot be negative, got %d", c.MaxRetries)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("the base retry delay has to be positive, got %s", c.BaseDelay)
	}
	if c.MaxDelay > 0 && c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("the max retry delay (%s) cannot be less than the base delay (%s)", c.MaxDelay, c.BaseDelay)
	}
	return nil
}

const RefreshModeEndpoint string = "endpoint"
const RefreshModeOAuth2 string = "oauth2"

type RefreshConfig struct {
	Mode         string
	LoginPath    string
	RefreshPath  string
	LogoutPath   string
	Timeout      time.Duration
	ExpiryMargin time.Duration
	TokenURL     *url.URL
	ClientID     string
	ClientSecret RedactedString
}

func (c RefreshConfig) Validate() error {
	switch c.Mode {
	case RefreshModeEndpoint:
		if c.RefreshPath == "" {
			return fmt.Errorf("the refresh path is required in %q mode", RefreshModeEndpoint)
		}
	case RefreshModeOAuth2:
		if c.TokenURL == nil || c.ClientID == "" {
			return fmt.Errorf("the token URL and client ID are required in %q mode", RefreshModeOAuth2)
		}
	default:
		return fmt.Errorf("unknown refresh mode %q (must be one of %s, %s)", c.Mode, RefreshModeEndpoint, RefreshModeOAuth2)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("the refresh timeout has to be positive, got %s", c.Timeout)
	}
	if c.ExpiryMargin < 0 {
		return fmt.Errorf("the expiry margin cannot be negative, got %s", c.ExpiryMargin)
	}
	return nil
}
