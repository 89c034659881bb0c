package credentials

import (
	"context"
	"encoding"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
)

const credentialPrefix string = "credential-"
const defaultCredentialKey string = "default"

// LimitedRedisClient is the limited set of functionality expected from the redis client in this store.
// This allows for easy mocking and swapping of the client. The universal redis client interface is way too big.
type LimitedRedisClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore persists the credential as a redis hash. All fields are written with a
// single HSET so readers never see a partially updated credential.
type RedisStore struct {
	rdb       LimitedRedisClient
	encryptor models.Encryptor
	key       string
}

// serializeStruct returns a list of alternating struct fields and values from the provided struct.
// It will only deconstruct exported fields, values implementing encoding.TextMarshaler are stored as text.
func (RedisStore) serializeStruct(strct any) []any {
	v := reflect.ValueOf(strct)
	t := v.Type()
	var output []any
	for i := 0; i < v.NumField(); i++ {
		if !t.Field(i).IsExported() {
			continue
		}
		fieldName := t.Field(i).Name
		fieldValue := v.Field(i).Interface()
		marshaller, ok := fieldValue.(encoding.TextMarshaler)
		if !ok {
			output = append(output, fieldName, fieldValue)
			continue
		}
		rawBytes, err := marshaller.MarshalText()
		if err != nil {
			output = append(output, fieldName, fieldValue)
			continue
		}
		output = append(output, fieldName, string(rawBytes))
	}
	return output
}

// deserializeToStruct takes a result from a Hash value in Redis and converts it to a struct
func (RedisStore) deserializeToStruct(hash map[string]string, output any) error {
	if len(hash) == 0 {
		// HGetAll returns an empty list of keys and values if the element is not present in the DB
		return apierrors.ErrMissingDBResource
	}
	decoder, err := mapstructure.NewDecoder(
		&mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result: output,
		},
	)
	if err != nil {
		return err
	}
	return decoder.Decode(hash)
}

func (r *RedisStore) redisKey() string {
	return credentialPrefix + r.key
}

func (r *RedisStore) Get(ctx context.Context) (models.Credential, error) {
	raw, err := r.rdb.HGetAll(ctx, r.redisKey()).Result()
	if err != nil {
		return models.Credential{}, err
	}
	var credential models.Credential
	err = r.deserializeToStruct(raw, &credential)
	if err != nil {
		if err == apierrors.ErrMissingDBResource {
			return models.Credential{}, apierrors.ErrCredentialNotFound
		}
		return models.Credential{}, err
	}
	return credential.SetEncryptor(r.encryptor).Decrypt()
}

func (r *RedisStore) Set(ctx context.Context, credential models.Credential) error {
	encCredential, err := credential.SetEncryptor(r.encryptor).Encrypt()
	if err != nil {
		return err
	}
	err = r.rdb.HSet(ctx, r.redisKey(), r.serializeStruct(encCredential)...).Err()
	if err != nil {
		slog.Error("CREDENTIAL STORE", "message", "writing the credential failed", "key", r.redisKey(), "error", err)
	}
	return err
}

func (r *RedisStore) Clear(ctx context.Context) error {
	return r.rdb.Del(ctx, r.redisKey()).Err()
}

type RedisStoreOption func(*RedisStore) error

func WithRedisConfig(storeConfig config.CredentialStoreConfig) RedisStoreOption {
	return func(r *RedisStore) error {
		redisConfig := storeConfig.Redis
		switch storeConfig.Type {
		case config.StoreTypeRedis:
			if len(redisConfig.Addresses) == 0 {
				return fmt.Errorf("at least one redis address is required")
			}
			if redisConfig.IsSentinel {
				r.rdb = redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:       redisConfig.MasterName,
					SentinelAddrs:    redisConfig.Addresses,
					Password:         string(redisConfig.Password),
					DB:               redisConfig.DBIndex,
					SentinelPassword: string(redisConfig.Password),
				})
				return nil
			}
			r.rdb = redis.NewClient(&redis.Options{
				Password: string(redisConfig.Password),
				DB:       redisConfig.DBIndex,
				Addr:     redisConfig.Addresses[0],
			})
			return nil
		case config.StoreTypeRedisMock:
			r.rdb = NewMockRedisClient()
			return nil
		default:
			return fmt.Errorf("unrecognized persistence type %v", storeConfig.Type)
		}
	}
}

func WithRedisClient(client LimitedRedisClient) RedisStoreOption {
	return func(r *RedisStore) error {
		r.rdb = client
		return nil
	}
}

// WithKey sets the key under which the credential is stored, so that several
// clients can share one redis database
func WithKey(key string) RedisStoreOption {
	return func(r *RedisStore) error {
		if key != "" {
			r.key = key
		}
		return nil
	}
}

func WithEncryption(secretKey string) RedisStoreOption {
	return func(r *RedisStore) error {
		encryptor, err := NewGCMEncryptor(secretKey)
		if err != nil {
			return err
		}
		r.encryptor = encryptor
		return nil
	}
}

func NewRedisStore(options ...RedisStoreOption) (*RedisStore, error) {
	store := RedisStore{key: defaultCredentialKey}
	for _, opt := range options {
		err := opt(&store)
		if err != nil {
			return &RedisStore{}, err
		}
	}
	if store.rdb == nil {
		return &RedisStore{}, fmt.Errorf("redis client is not initialized")
	}
	return &store, nil
}
