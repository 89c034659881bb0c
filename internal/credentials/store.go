// Package credentials holds the stores that persist the credential used by the request pipeline.
package credentials

import (
	"fmt"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
)

// Store is read on every call and written only at login, after a successful refresh and at logout.
// Implementations must replace the credential atomically.
type Store interface {
	models.CredentialGetter
	models.CredentialSetter
	models.CredentialRemover
}

// NewStore creates the store selected in the configuration
func NewStore(storeConfig config.CredentialStoreConfig) (Store, error) {
	switch storeConfig.Type {
	case config.StoreTypeMemory:
		return NewMemoryStore(), nil
	case config.StoreTypeRedis, config.StoreTypeRedisMock:
		options := []RedisStoreOption{WithRedisConfig(storeConfig), WithKey(storeConfig.Key)}
		if storeConfig.Encryption.Enabled {
			options = append(options, WithEncryption(string(storeConfig.Encryption.SecretKey)))
		}
		return NewRedisStore(options...)
	default:
		return nil, fmt.Errorf("unrecognized credential store type %v", storeConfig.Type)
	}
}
