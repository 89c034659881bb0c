package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/credentials"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var credentialA1 = models.Credential{AccessToken: "A1", RefreshToken: "R1", ExpiresAt: time.Now().Add(-time.Minute)}
var credentialA2 = models.Credential{AccessToken: "A2", RefreshToken: "R2", ExpiresAt: time.Now().Add(time.Hour)}

type fakeRefresher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	result  models.Credential
	err     error
}

func newFakeRefresher(result models.Credential, err error) *fakeRefresher {
	return &fakeRefresher{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
		result:  result,
		err:     err,
	}
}

func (f *fakeRefresher) Refresh(ctx context.Context, current models.Credential) (models.Credential, error) {
	f.calls.Add(1)
	f.started <- struct{}{}
	select {
	case <-f.release:
	case <-ctx.Done():
		return models.Credential{}, ctx.Err()
	}
	if f.err != nil {
		return models.Credential{}, f.err
	}
	if current.RefreshToken != "R1" {
		return models.Credential{}, fmt.Errorf("unexpected refresh token")
	}
	return f.result, nil
}

type countingStore struct {
	*credentials.MemoryStore
	clears atomic.Int32
}

func (c *countingStore) Clear(ctx context.Context) error {
	c.clears.Add(1)
	return c.MemoryStore.Clear(ctx)
}

func newTestStore(t *testing.T, credential *models.Credential) *countingStore {
	store := &countingStore{MemoryStore: credentials.NewMemoryStore()}
	if credential != nil {
		require.NoError(t, store.Set(context.Background(), *credential))
	}
	return store
}

func resolveConcurrently(c *Coordinator, callers int, used models.Credential) ([]models.Credential, []error) {
	creds := make([]models.Credential, callers)
	errs := make([]error, callers)
	wg := sync.WaitGroup{}
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds[i], errs[i] = c.Resolve(context.Background(), used)
		}(i)
	}
	wg.Wait()
	return creds, errs
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	store := newTestStore(t, &credentialA1)
	refresher := newFakeRefresher(credentialA2, nil)
	c, err := NewCoordinator(WithStore(store), WithRefresher(refresher))
	require.NoError(t, err)

	go func() {
		<-refresher.started
		time.Sleep(20 * time.Millisecond)
		close(refresher.release)
	}()
	creds, errs := resolveConcurrently(c, 20, credentialA1)

	assert.Equal(t, int32(1), refresher.calls.Load())
	for i := range creds {
		require.NoError(t, errs[i])
		assert.Equal(t, "A2", creds[i].AccessToken)
	}
	stored, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A2", stored.AccessToken)
	assert.Equal(t, StateIdle, c.State())
}

func TestFailedRefreshExpiresEveryCaller(t *testing.T) {
	store := newTestStore(t, &credentialA1)
	refresher := newFakeRefresher(models.Credential{}, fmt.Errorf("refresh token revoked"))
	var notified atomic.Int32
	c, err := NewCoordinator(
		WithStore(store),
		WithRefresher(refresher),
		WithSessionListener(func(ctx context.Context, err error) {
			assert.ErrorIs(t, err, apierrors.ErrSessionExpired)
			notified.Add(1)
		}),
	)
	require.NoError(t, err)

	go func() {
		<-refresher.started
		time.Sleep(20 * time.Millisecond)
		close(refresher.release)
	}()
	_, errs := resolveConcurrently(c, 20, credentialA1)

	assert.Equal(t, int32(1), refresher.calls.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, apierrors.ErrSessionExpired)
	}
	assert.Equal(t, int32(1), store.clears.Load())
	assert.Eventually(t, func() bool { return notified.Load() == 1 }, time.Second, 5*time.Millisecond)
	_, err = store.Get(context.Background())
	assert.ErrorIs(t, err, apierrors.ErrCredentialNotFound)
	assert.Equal(t, StateIdle, c.State())
}

func TestReplacedCredentialIsReturnedWithoutRefresh(t *testing.T) {
	store := newTestStore(t, &credentialA2)
	refresher := newFakeRefresher(models.Credential{}, nil)
	c, err := NewCoordinator(WithStore(store), WithRefresher(refresher))
	require.NoError(t, err)

	credential, err := c.Resolve(context.Background(), credentialA1)
	require.NoError(t, err)
	assert.Equal(t, "A2", credential.AccessToken)
	assert.Equal(t, int32(0), refresher.calls.Load())
}

func TestEmptyStoreExpiresTheSession(t *testing.T) {
	store := newTestStore(t, nil)
	refresher := newFakeRefresher(models.Credential{}, nil)
	c, err := NewCoordinator(WithStore(store), WithRefresher(refresher))
	require.NoError(t, err)

	_, err = c.Resolve(context.Background(), credentialA1)
	assert.ErrorIs(t, err, apierrors.ErrSessionExpired)
	assert.Equal(t, int32(0), refresher.calls.Load())
	assert.Equal(t, int32(0), store.clears.Load())
}

func TestCanceledCallerDoesNotAbortTheRefresh(t *testing.T) {
	store := newTestStore(t, &credentialA1)
	refresher := newFakeRefresher(credentialA2, nil)
	c, err := NewCoordinator(WithStore(store), WithRefresher(refresher))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := c.Resolve(ctx, credentialA1)
		result <- err
	}()
	<-refresher.started
	cancel()
	assert.True(t, errors.Is(<-result, context.Canceled))
	assert.Equal(t, StateRefreshing, c.State())

	close(refresher.release)
	assert.Eventually(t, func() bool { return c.State() == StateIdle }, time.Second, 5*time.Millisecond)
	stored, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A2", stored.AccessToken)
}

func TestRefreshTimeout(t *testing.T) {
	store := newTestStore(t, &credentialA1)
	refresher := newFakeRefresher(credentialA2, nil)
	c, err := NewCoordinator(WithStore(store), WithRefresher(refresher), WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = c.Resolve(context.Background(), credentialA1)
	assert.ErrorIs(t, err, apierrors.ErrSessionExpired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), store.clears.Load())
}

func TestResetDuringRefreshDropsTheResult(t *testing.T) {
	store := newTestStore(t, &credentialA1)
	refresher := newFakeRefresher(credentialA2, nil)
	c, err := NewCoordinator(WithStore(store), WithRefresher(refresher))
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), credentialA1)
		result <- err
	}()
	<-refresher.started
	require.NoError(t, c.Reset(context.Background()))
	assert.Equal(t, StateIdle, c.State())
	close(refresher.release)

	err = <-result
	assert.ErrorIs(t, err, apierrors.ErrSessionExpired)
	assert.ErrorIs(t, err, apierrors.ErrSessionReplaced)
	_, err = store.Get(context.Background())
	assert.ErrorIs(t, err, apierrors.ErrCredentialNotFound)
	assert.Equal(t, int32(1), store.clears.Load())
}

func TestReplaceDuringFailingRefreshKeepsTheNewCredential(t *testing.T) {
	store := newTestStore(t, &credentialA1)
	refresher := newFakeRefresher(models.Credential{}, fmt.Errorf("refresh token revoked"))
	var notified atomic.Int32
	c, err := NewCoordinator(
		WithStore(store),
		WithRefresher(refresher),
		WithSessionListener(func(ctx context.Context, err error) { notified.Add(1) }),
	)
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), credentialA1)
		result <- err
	}()
	<-refresher.started
	credentialA3 := models.Credential{AccessToken: "A3", RefreshToken: "R3", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, c.Replace(context.Background(), credentialA3))
	close(refresher.release)

	assert.ErrorIs(t, <-result, apierrors.ErrSessionExpired)
	stored, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A3", stored.AccessToken)
	assert.Equal(t, int32(0), store.clears.Load())
	assert.Equal(t, int32(0), notified.Load())
}

func TestNewSessionRefreshesAfterReplace(t *testing.T) {
	store := newTestStore(t, &credentialA1)
	refresher := newFakeRefresher(credentialA2, nil)
	c, err := NewCoordinator(WithStore(store), WithRefresher(refresher))
	require.NoError(t, err)

	stale := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), credentialA1)
		stale <- err
	}()
	<-refresher.started
	// the new session carries the same refresh token so the fake accepts it
	require.NoError(t, c.Replace(context.Background(), credentialA1))

	fresh := make(chan models.Credential, 1)
	go func() {
		credential, err := c.Resolve(context.Background(), credentialA1)
		assert.NoError(t, err)
		fresh <- credential
	}()
	<-refresher.started
	close(refresher.release)

	assert.ErrorIs(t, <-stale, apierrors.ErrSessionExpired)
	assert.Equal(t, "A2", (<-fresh).AccessToken)
	assert.Equal(t, int32(2), refresher.calls.Load())
}

func TestSlowListenerDoesNotHoldBackWaiters(t *testing.T) {
	store := newTestStore(t, &credentialA1)
	refresher := newFakeRefresher(models.Credential{}, fmt.Errorf("refresh token revoked"))
	unblock := make(chan struct{})
	defer close(unblock)
	c, err := NewCoordinator(
		WithStore(store),
		WithRefresher(refresher),
		WithSessionListener(func(ctx context.Context, err error) { <-unblock }),
	)
	require.NoError(t, err)
	close(refresher.release)

	done := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), credentialA1)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, apierrors.ErrSessionExpired)
	case <-time.After(time.Second):
		t.Fatal("the waiter was not released while the listener was running")
	}
	assert.Equal(t, StateIdle, c.State())
}

func TestNewCoordinatorRequiresCollaborators(t *testing.T) {
	_, err := NewCoordinator(WithRefresher(newFakeRefresher(credentialA2, nil)))
	assert.Error(t, err)
	_, err = NewCoordinator(WithStore(credentials.NewMemoryStore()))
	assert.Error(t, err)
	_, err = NewCoordinator(WithStore(credentials.NewMemoryStore()), WithRefresher(newFakeRefresher(credentialA2, nil)), WithTimeout(0))
	assert.Error(t, err)
}
