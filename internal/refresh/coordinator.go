// Package refresh renews an expired credential once, no matter how many calls notice the expiry at the same time.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/credentials"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/metrics"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
)

const DefaultTimeout time.Duration = 15 * time.Second

type State int

const (
	StateIdle State = iota
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRefreshing:
		return "Refreshing"
	case StateFailed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Refresher exchanges the refresh token of the credential for a new credential
type Refresher interface {
	Refresh(ctx context.Context, current models.Credential) (models.Credential, error)
}

// SessionListener is notified when a refresh fails and the stored credential is cleared
type SessionListener func(ctx context.Context, err error)

// flight is one refresh in progress, every caller waiting on it shares the outcome
type flight struct {
	done       chan struct{}
	credential models.Credential
	err        error
	// epoch of the session the refresh was started for
	epoch uint64
}

type Coordinator struct {
	store     credentials.Store
	refresher Refresher
	timeout   time.Duration
	metrics   *metrics.Metrics

	// writes orders the credential writes of refreshes, logins and logouts
	writes     sync.Mutex
	lock       sync.Mutex
	state      State
	flight     *flight
	generation uint64
	epoch      uint64
	listeners  []SessionListener
}

// Resolve is called after the remote API rejected the credential used by a call. It returns the
// credential the call should be resumed with. When the stored credential already differs from
// the rejected one no refresh is made.
func (c *Coordinator) Resolve(ctx context.Context, used models.Credential) (models.Credential, error) {
	for {
		c.lock.Lock()
		if c.flight != nil {
			f := c.flight
			c.lock.Unlock()
			return c.wait(ctx, f)
		}
		generation := c.generation
		c.lock.Unlock()

		current, err := c.store.Get(ctx)
		if err != nil {
			if errors.Is(err, apierrors.ErrCredentialNotFound) {
				return models.Credential{}, fmt.Errorf("%w: %w", apierrors.ErrSessionExpired, err)
			}
			return models.Credential{}, err
		}
		if !current.SameAccess(used) {
			slog.Debug("REFRESH COORDINATOR", "message", "the rejected credential was already replaced")
			c.metrics.ObserveRefresh(metrics.RefreshSkipped)
			return current, nil
		}

		c.lock.Lock()
		if c.flight != nil {
			f := c.flight
			c.lock.Unlock()
			return c.wait(ctx, f)
		}
		if c.generation != generation {
			// a flight started and finished while the store was read
			c.lock.Unlock()
			continue
		}
		f := &flight{done: make(chan struct{}), epoch: c.epoch}
		c.flight = f
		c.state = StateRefreshing
		c.lock.Unlock()

		go c.run(context.WithoutCancel(ctx), f, current)
		return c.wait(ctx, f)
	}
}

func (c *Coordinator) wait(ctx context.Context, f *flight) (models.Credential, error) {
	select {
	case <-f.done:
		return f.credential, f.err
	case <-ctx.Done():
		return models.Credential{}, ctx.Err()
	}
}

func (c *Coordinator) run(parent context.Context, f *flight, current models.Credential) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()
	slog.Debug("REFRESH COORDINATOR", "message", "refreshing the credential", "credential", current)
	credential, err := c.refresher.Refresh(ctx, current)

	c.writes.Lock()
	if c.superseded(f) {
		c.writes.Unlock()
		slog.Info("REFRESH COORDINATOR", "message", "the session changed while refreshing, the result is dropped")
		c.metrics.ObserveRefresh(metrics.RefreshSkipped)
		f.err = fmt.Errorf("%w: %w", apierrors.ErrSessionExpired, apierrors.ErrSessionReplaced)
		c.finish(f)
		return
	}
	if err == nil {
		err = c.store.Set(ctx, credential)
	}
	if err == nil {
		c.writes.Unlock()
		c.metrics.ObserveRefresh(metrics.RefreshSucceeded)
		f.credential = credential
		c.finish(f)
		return
	}
	clearErr := c.store.Clear(ctx)
	c.writes.Unlock()

	slog.Info("REFRESH COORDINATOR", "message", "the credential could not be refreshed, ending the session", "error", err)
	if clearErr != nil {
		slog.Error("REFRESH COORDINATOR", "message", "clearing the credential failed", "error", clearErr)
	}
	c.metrics.ObserveRefresh(metrics.RefreshFailed)
	f.err = fmt.Errorf("%w: %w", apierrors.ErrSessionExpired, err)
	c.lock.Lock()
	if c.flight == f {
		c.state = StateFailed
	}
	listeners := append([]SessionListener{}, c.listeners...)
	c.lock.Unlock()
	c.finish(f)
	// the waiters are released before the listeners run, a login since then is left alone
	if c.superseded(f) {
		return
	}
	for _, listener := range listeners {
		listener(parent, f.err)
	}
}

// superseded reports whether a login or logout happened after the flight started
func (c *Coordinator) superseded(f *flight) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return f.epoch != c.epoch
}

func (c *Coordinator) finish(f *flight) {
	c.lock.Lock()
	if c.flight == f {
		c.flight = nil
		c.state = StateIdle
		c.generation++
	}
	c.lock.Unlock()
	close(f.done)
}

// supersede starts a new session epoch. A refresh still running for the previous session
// is detached, it will not write to the store and its waiters get ErrSessionExpired.
func (c *Coordinator) supersede() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.epoch++
	c.generation++
	if c.flight != nil {
		slog.Debug("REFRESH COORDINATOR", "message", "a refresh in progress was superseded")
		c.flight = nil
		c.state = StateIdle
	}
}

// Replace stores the credential of a new session, for example after a login
func (c *Coordinator) Replace(ctx context.Context, credential models.Credential) error {
	c.writes.Lock()
	defer c.writes.Unlock()
	c.supersede()
	return c.store.Set(ctx, credential)
}

// Reset ends the session and removes the stored credential
func (c *Coordinator) Reset(ctx context.Context) error {
	c.writes.Lock()
	defer c.writes.Unlock()
	c.supersede()
	return c.store.Clear(ctx)
}

// OnSessionInvalidated registers a listener for failed refreshes
func (c *Coordinator) OnSessionInvalidated(listener SessionListener) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.listeners = append(c.listeners, listener)
}

func (c *Coordinator) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

type CoordinatorOption func(*Coordinator) error

func WithStore(store credentials.Store) CoordinatorOption {
	return func(c *Coordinator) error {
		c.store = store
		return nil
	}
}

func WithRefresher(refresher Refresher) CoordinatorOption {
	return func(c *Coordinator) error {
		c.refresher = refresher
		return nil
	}
}

// WithTimeout bounds the refresh call, it does not depend on the context of the calls waiting for it
func WithTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) error {
		if timeout <= 0 {
			return fmt.Errorf("the refresh timeout has to be positive, got %s", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) error {
		c.metrics = m
		return nil
	}
}

func WithSessionListener(listener SessionListener) CoordinatorOption {
	return func(c *Coordinator) error {
		c.listeners = append(c.listeners, listener)
		return nil
	}
}

func NewCoordinator(options ...CoordinatorOption) (*Coordinator, error) {
	c := Coordinator{timeout: DefaultTimeout}
	for _, opt := range options {
		err := opt(&c)
		if err != nil {
			return nil, err
		}
	}
	if c.store == nil {
		return nil, fmt.Errorf("the credential store is not initialized")
	}
	if c.refresher == nil {
		return nil, fmt.Errorf("the refresher is not initialized")
	}
	return &c, nil
}
