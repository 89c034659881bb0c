// Package dispatcher turns application calls into resilient calls against the remote API.
// Every call goes through the throttle guard, the raw transport, the retry policy and,
// when the credential is rejected, the refresh coordinator.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
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
	HeaderAuthorization string = "Authorization"
	HeaderTenantID      string = "X-Tenant-Id"
	HeaderRequestID     string = "X-Request-Id"
)

type Dispatcher struct {
	transport    transport.Transport
	store        credentials.Store
	guard        *throttle.Guard
	policy       *retry.Policy
	coordinator  *refresh.Coordinator
	reports      *telemetry.Async
	sessions     telemetry.SessionObserver
	metrics      *metrics.Metrics
	ids          models.IDGenerator
	sleep        retry.SleepFunc
	tenantID     atomic.Pointer[string]
	loginPath    string
	logoutPath   string
	expiryMargin time.Duration
}

// Execute runs one logical call. Retries and the resumption after a refresh happen in
// this loop, bounded by the attempt counter and the refresh flag.
func (d *Dispatcher) Execute(ctx context.Context, descriptor models.RequestDescriptor) (models.Response, error) {
	requestID, err := d.ids.ID()
	if err != nil {
		return models.Response{}, fmt.Errorf("cannot generate a request ID: %w", err)
	}
	attempt := models.NewAttempt(descriptor, requestID)
	if !d.guard.Admit(descriptor) {
		d.metrics.ObserveThrottled()
		return models.Response{}, d.fail(attempt, &apierrors.ClassifiedError{
			Kind:   apierrors.KindThrottled,
			Method: descriptor.Method,
			Target: descriptor.Target,
		})
	}
	credential, hasCredential := d.credential(ctx, descriptor)
	if hasCredential && d.expiresSoon(credential) {
		credential, err = d.coordinator.Resolve(ctx, credential)
		if err != nil {
			return models.Response{}, d.fail(attempt, refreshFailure(descriptor, 0, err))
		}
	}
	sent := 0
	for {
		if ctx.Err() != nil {
			return models.Response{}, d.fail(attempt, canceled(descriptor, sent, ctx.Err()))
		}
		sent++
		res, sendErr := d.transport.Send(ctx, d.request(attempt, credential, hasCredential))
		if sendErr != nil && ctx.Err() != nil {
			return models.Response{}, d.fail(attempt, canceled(descriptor, sent, ctx.Err()))
		}
		response, failure := classify(descriptor, res, sendErr, sent)
		if failure == nil {
			d.metrics.ObserveOutcome(descriptor.Method, nil)
			return response, nil
		}

		switch failure.Kind {
		case apierrors.KindAuthExpired:
			if descriptor.Anonymous || attempt.RefreshAttempted || !hasCredential || d.coordinator == nil {
				return models.Response{}, d.fail(attempt, failure)
			}
			slog.Debug("DISPATCHER", "message", "credential rejected, resolving a new one", "method", descriptor.Method, "target", descriptor.Target, "requestID", requestID)
			refreshed, err := d.coordinator.Resolve(ctx, credential)
			if err != nil {
				return models.Response{}, d.fail(attempt, refreshFailure(descriptor, sent, err))
			}
			credential = refreshed
			attempt = attempt.Resumed()
		case apierrors.KindTransient:
			decision := d.policy.ShouldRetry(descriptor, failure.Kind, attempt.Count)
			if !decision.Retry {
				if descriptor.RetryEligible {
					return models.Response{}, d.fail(attempt, retry.Exhausted(failure))
				}
				return models.Response{}, d.fail(attempt, failure)
			}
			slog.Debug("DISPATCHER", "message", "transient failure, retrying", "method", descriptor.Method, "target", descriptor.Target, "delay", decision.Delay, "attempt", attempt.Count+1, "requestID", requestID)
			err := d.sleep(ctx, decision.Delay)
			if err != nil {
				return models.Response{}, d.fail(attempt, canceled(descriptor, sent, err))
			}
			d.metrics.ObserveRetry()
			attempt = attempt.Retried()
		default:
			return models.Response{}, d.fail(attempt, failure)
		}
	}
}

// credential reads the stored credential, a missing credential is not an error
func (d *Dispatcher) credential(ctx context.Context, descriptor models.RequestDescriptor) (models.Credential, bool) {
	if descriptor.Anonymous {
		return models.Credential{}, false
	}
	credential, err := d.store.Get(ctx)
	if err != nil {
		if !errors.Is(err, apierrors.ErrCredentialNotFound) {
			slog.Error("DISPATCHER", "message", "reading the credential failed, sending the request without it", "error", err)
		}
		return models.Credential{}, false
	}
	return credential, true
}

// expiresSoon is true when the credential should be refreshed before it is used
func (d *Dispatcher) expiresSoon(credential models.Credential) bool {
	if d.expiryMargin <= 0 || d.coordinator == nil || credential.RefreshToken == "" {
		return false
	}
	return credential.ExpiresSoon(d.expiryMargin)
}

// request builds the raw request for an attempt, only the credential header can differ between attempts
func (d *Dispatcher) request(attempt models.Attempt, credential models.Credential, hasCredential bool) transport.Request {
	descriptor := attempt.Descriptor
	headers := http.Header{}
	for key, values := range descriptor.Headers {
		headers[key] = append([]string{}, values...)
	}
	if hasCredential && credential.AccessToken != "" {
		headers.Set(HeaderAuthorization, "Bearer "+credential.AccessToken)
	}
	if tenantID := d.TenantID(); tenantID != "" && headers.Get(HeaderTenantID) == "" {
		headers.Set(HeaderTenantID, tenantID)
	}
	headers.Set(HeaderRequestID, attempt.RequestID)
	if len(descriptor.Body) > 0 && headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", "application/json")
	}
	return transport.Request{
		Method:  descriptor.Method,
		Target:  descriptor.Target,
		Query:   descriptor.Query,
		Headers: headers,
		Body:    descriptor.Body,
	}
}

// fail records and reports a classified error before it is returned to the caller
func (d *Dispatcher) fail(attempt models.Attempt, err *apierrors.ClassifiedError) error {
	d.metrics.ObserveOutcome(attempt.Descriptor.Method, err)
	if d.reports != nil {
		d.reports.Report(err, err.Context(attempt.RequestID))
	}
	return err
}

func (d *Dispatcher) SetTenantID(tenantID string) {
	d.tenantID.Store(&tenantID)
}

func (d *Dispatcher) TenantID() string {
	tenantID := d.tenantID.Load()
	if tenantID == nil {
		return ""
	}
	return *tenantID
}

// OnSessionInvalidated registers a listener that runs when the session ends because the
// credential could not be refreshed
func (d *Dispatcher) OnSessionInvalidated(listener refresh.SessionListener) {
	if d.coordinator != nil {
		d.coordinator.OnSessionInvalidated(listener)
	}
}
