package credentials

import (
	"context"
	"sync"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
)

// MemoryStore keeps the credential in process memory
type MemoryStore struct {
	lock       sync.RWMutex
	credential *models.Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(_ context.Context) (models.Credential, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.credential == nil {
		return models.Credential{}, apierrors.ErrCredentialNotFound
	}
	return *m.credential, nil
}

func (m *MemoryStore) Set(_ context.Context, credential models.Credential) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.credential = &credential
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.credential = nil
	return nil
}
