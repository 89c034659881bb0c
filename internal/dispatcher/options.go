package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/credentials"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/metrics"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/refresh"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/retry"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/telemetry"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/throttle"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/transport"
)

const (
	DefaultLoginPath  string = "/auth/login"
	DefaultLogoutPath string = "/auth/logout"
)

type DispatcherOption func(*Dispatcher) error

func WithTransport(t transport.Transport) DispatcherOption {
	return func(d *Dispatcher) error {
		d.transport = t
		return nil
	}
}

func WithCredentialStore(store credentials.Store) DispatcherOption {
	return func(d *Dispatcher) error {
		d.store = store
		return nil
	}
}

func WithThrottleGuard(guard *throttle.Guard) DispatcherOption {
	return func(d *Dispatcher) error {
		d.guard = guard
		return nil
	}
}

func WithRetryPolicy(policy *retry.Policy) DispatcherOption {
	return func(d *Dispatcher) error {
		d.policy = policy
		return nil
	}
}

// WithRefreshCoordinator enables the refresh of rejected credentials, without it a 401 is returned to the caller
func WithRefreshCoordinator(coordinator *refresh.Coordinator) DispatcherOption {
	return func(d *Dispatcher) error {
		d.coordinator = coordinator
		return nil
	}
}

// WithTelemetry reports every classified error to the sink without blocking the caller
func WithTelemetry(sink telemetry.Sink) DispatcherOption {
	return func(d *Dispatcher) error {
		if sink == nil {
			return fmt.Errorf("the telemetry sink cannot be nil")
		}
		d.reports = telemetry.NewAsync(sink)
		return nil
	}
}

// WithSessionObserver tells the observer about logins and about sessions that ended
func WithSessionObserver(observer telemetry.SessionObserver) DispatcherOption {
	return func(d *Dispatcher) error {
		if observer == nil {
			return fmt.Errorf("the session observer cannot be nil")
		}
		d.sessions = observer
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) error {
		d.metrics = m
		return nil
	}
}

func WithIDGenerator(ids models.IDGenerator) DispatcherOption {
	return func(d *Dispatcher) error {
		d.ids = ids
		return nil
	}
}

// WithSleep replaces the function used to wait between retries
func WithSleep(sleep retry.SleepFunc) DispatcherOption {
	return func(d *Dispatcher) error {
		d.sleep = sleep
		return nil
	}
}

func WithTenantID(tenantID string) DispatcherOption {
	return func(d *Dispatcher) error {
		d.SetTenantID(tenantID)
		return nil
	}
}

func WithAuthPaths(loginPath, logoutPath string) DispatcherOption {
	return func(d *Dispatcher) error {
		if loginPath == "" || logoutPath == "" {
			return fmt.Errorf("the login and logout paths cannot be empty")
		}
		d.loginPath = loginPath
		d.logoutPath = logoutPath
		return nil
	}
}

// WithExpiryMargin refreshes credentials that expire within the margin before they are sent
func WithExpiryMargin(margin time.Duration) DispatcherOption {
	return func(d *Dispatcher) error {
		if margin < 0 {
			return fmt.Errorf("the expiry margin cannot be negative, got %s", margin)
		}
		d.expiryMargin = margin
		return nil
	}
}

func NewDispatcher(options ...DispatcherOption) (*Dispatcher, error) {
	d := Dispatcher{
		ids:        models.UUIDGenerator{},
		sleep:      retry.Sleep,
		loginPath:  DefaultLoginPath,
		logoutPath: DefaultLogoutPath,
	}
	for _, opt := range options {
		err := opt(&d)
		if err != nil {
			return nil, err
		}
	}
	if d.transport == nil {
		return nil, fmt.Errorf("the transport is not initialized")
	}
	if d.store == nil {
		return nil, fmt.Errorf("the credential store is not initialized")
	}
	if d.guard == nil {
		guard, err := throttle.NewGuard()
		if err != nil {
			return nil, err
		}
		d.guard = guard
	}
	if d.policy == nil {
		policy, err := retry.NewPolicy()
		if err != nil {
			return nil, err
		}
		d.policy = policy
	}
	if d.sessions != nil {
		sessions := d.sessions
		d.OnSessionInvalidated(func(context.Context, error) { sessions.LoggedOut() })
	}
	return &d, nil
}
