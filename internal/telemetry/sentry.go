package telemetry

import (
	"fmt"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
	"github.com/getsentry/sentry-go"
)

// SentrySink captures classified errors as Sentry exceptions. Throttled and canceled
// calls are expected outcomes and are not sent.
type SentrySink struct {
	hub *sentry.Hub
}

func (s *SentrySink) Report(err *apierrors.ClassifiedError, errContext apierrors.Context) {
	if err.Kind == apierrors.KindThrottled || err.Kind == apierrors.KindCanceled {
		return
	}
	hub := s.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(err.Kind))
		scope.SetTag("api", errContext.Target)
		scope.SetTag("method", errContext.Method)
		scope.SetTag("kind", err.Kind.String())
		scope.SetTag("status", fmt.Sprint(errContext.Status))
		scope.SetTag("attempts", fmt.Sprint(errContext.Attempts))
		if errContext.RequestID != "" {
			scope.SetTag("request_id", errContext.RequestID)
		}
		scope.SetFingerprint([]string{err.Kind.String(), errContext.Method, errContext.Target})
		hub.CaptureException(err)
	})
}

// LoggedIn attaches the user to every following event
func (s *SentrySink) LoggedIn(username string) {
	s.hub.Scope().SetUser(sentry.User{Username: username})
}

func (s *SentrySink) LoggedOut() {
	s.hub.Scope().SetUser(sentry.User{})
}

func sentryLevel(kind apierrors.Kind) sentry.Level {
	switch kind {
	case apierrors.KindPermanent, apierrors.KindSessionExpired:
		return sentry.LevelError
	case apierrors.KindNotFound, apierrors.KindForbidden:
		return sentry.LevelInfo
	}
	return sentry.LevelWarning
}

type SentrySinkOption func(*SentrySink) error

// WithHub uses a specific hub instead of the current one
func WithHub(hub *sentry.Hub) SentrySinkOption {
	return func(s *SentrySink) error {
		if hub == nil {
			return fmt.Errorf("the sentry hub cannot be nil")
		}
		s.hub = hub
		return nil
	}
}

func NewSentrySink(options ...SentrySinkOption) (*SentrySink, error) {
	s := SentrySink{hub: sentry.CurrentHub()}
	for _, opt := range options {
		err := opt(&s)
		if err != nil {
			return nil, err
		}
	}
	return &s, nil
}
