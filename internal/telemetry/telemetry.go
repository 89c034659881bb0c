// Package telemetry reports classified pipeline errors.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
)

// Sink receives every classified error, implementations must not block for long
type Sink interface {
	Report(err *apierrors.ClassifiedError, errContext apierrors.Context)
}

// SessionObserver follows who is logged in, so reports can name the user
type SessionObserver interface {
	LoggedIn(username string)
	LoggedOut()
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(err *apierrors.ClassifiedError, errContext apierrors.Context)

func (f SinkFunc) Report(err *apierrors.ClassifiedError, errContext apierrors.Context) {
	f(err, errContext)
}

// Multi fans a report out to several sinks
type Multi []Sink

func (m Multi) Report(err *apierrors.ClassifiedError, errContext apierrors.Context) {
	for _, sink := range m {
		sink.Report(err, errContext)
	}
}

// LogSink writes reports to the default slog logger
type LogSink struct{}

func (LogSink) Report(err *apierrors.ClassifiedError, errContext apierrors.Context) {
	level := slog.LevelWarn
	switch err.Kind {
	case apierrors.KindThrottled, apierrors.KindCanceled:
		level = slog.LevelDebug
	case apierrors.KindPermanent, apierrors.KindSessionExpired:
		level = slog.LevelError
	}
	slog.Default().Log(
		context.Background(),
		level,
		"TELEMETRY",
		"message", "request failed",
		"kind", err.Kind.String(),
		"method", errContext.Method,
		"target", errContext.Target,
		"status", errContext.Status,
		"attempts", errContext.Attempts,
		"requestID", errContext.RequestID,
		"error", err.Error(),
	)
}

// Async hands reports to the wrapped sink on their own goroutine so that the caller never waits
type Async struct {
	sink Sink
	wg   sync.WaitGroup
}

func NewAsync(sink Sink) *Async {
	return &Async{sink: sink}
}

func (a *Async) Report(err *apierrors.ClassifiedError, errContext apierrors.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("TELEMETRY", "message", "reporting an error panicked", "panic", r)
			}
		}()
		a.sink.Report(err, errContext)
	}()
}

// Wait blocks until the reports handed out so far are done
func (a *Async) Wait() {
	a.wg.Wait()
}
