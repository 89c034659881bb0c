package config

import "fmt"

const StoreTypeMemory string = "memory"
const StoreTypeRedis string = "redis"
const StoreTypeRedisMock string = "redis-mock"

type RedisConfig struct {
	Addresses  []string
	IsSentinel bool
	Password   RedactedString
	MasterName string
	DBIndex    int
}

type EncryptionConfig struct {
	Enabled   bool
	SecretKey RedactedString
}

type CredentialStoreConfig struct {
	Type       string
	Key        string
	Redis      RedisConfig
	Encryption EncryptionConfig
}

func (c CredentialStoreConfig) Validate(e RunningEnvironment) error {
	switch c.Type {
	case StoreTypeMemory, StoreTypeRedisMock:
	case StoreTypeRedis:
		if len(c.Redis.Addresses) == 0 {
			return fmt.Errorf("at least one redis address is required")
		}
	default:
		return fmt.Errorf("unknown credential store type %q", c.Type)
	}
	if e != Development && c.Type == StoreTypeRedisMock {
		return fmt.Errorf("credential store type cannot be \"redis-mock\" in production")
	}
	if c.Encryption.Enabled && len(c.Encryption.SecretKey) != 32 {
		return fmt.Errorf(
			"credential encryption key has to be 32 bytes long, the provided one is %d long",
			len(c.Encryption.SecretKey),
		)
	}
	return nil
}
