package models

import (
	"context"
)

type Encryptor interface {
	Encrypt(value string) (encrypted string, err error)
	Decrypt(value string) (decrypted string, err error)
}

type IDGenerator interface {
	ID() (string, error)
}

type CredentialGetter interface {
	Get(ctx context.Context) (Credential, error)
}

type CredentialSetter interface {
	Set(ctx context.Context, credential Credential) error
}

type CredentialRemover interface {
	Clear(ctx context.Context) error
}
