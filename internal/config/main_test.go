package config

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getValidConfig(t *testing.T) Config {
	baseURL, err := url.Parse("https://dashboard.example.org/api")
	require.NoError(t, err)
	return Config{
		RunningEnvironment: Production,
		Client:             ClientConfig{BaseURL: baseURL, Timeout: 30 * time.Second},
		Throttle:           ThrottleConfig{Window: time.Second},
		Retry:              RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		Refresh:            RefreshConfig{Mode: RefreshModeEndpoint, RefreshPath: "/auth/refresh-token", Timeout: 15 * time.Second},
		CredentialStore:    CredentialStoreConfig{Type: StoreTypeRedis, Redis: RedisConfig{Addresses: []string{"localhost:6379"}}},
	}
}

func TestValidConfig(t *testing.T) {
	config := getValidConfig(t)

	err := config.Validate()

	assert.NoError(t, err)
}

func TestInvalidRunningEnvironment(t *testing.T) {
	config := getValidConfig(t)
	config.RunningEnvironment = "staging"

	err := config.Validate()

	assert.Error(t, err)
}

func TestInvalidClientConfig(t *testing.T) {
	config := getValidConfig(t)
	config.Client.BaseURL = nil
	assert.Error(t, config.Validate())

	config = getValidConfig(t)
	config.Client.RateLimits = RateLimits{Enabled: true, Rate: 0, Burst: 1}
	assert.Error(t, config.Validate())
}

func TestInvalidRetryConfig(t *testing.T) {
	config := getValidConfig(t)
	config.Retry.MaxDelay = time.Millisecond

	err := config.Validate()

	assert.ErrorContains(t, err, "max retry delay")
}

func TestInvalidRefreshConfig(t *testing.T) {
	config := getValidConfig(t)
	config.Refresh.Mode = RefreshModeOAuth2

	err := config.Validate()

	assert.ErrorContains(t, err, "token URL")
}

func TestInvalidCredentialStoreConfig(t *testing.T) {
	config := getValidConfig(t)
	config.CredentialStore.Type = StoreTypeRedisMock

	err := config.Validate()

	assert.ErrorContains(t, err, "credential store type cannot be \"redis-mock\" in production")

	config = getValidConfig(t)
	config.CredentialStore.Encryption = EncryptionConfig{Enabled: true, SecretKey: "invalid"}
	assert.ErrorContains(t, config.Validate(), "32 bytes")
}
