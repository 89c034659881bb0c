package telemetry

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureTransport struct {
	lock   sync.Mutex
	events []*sentry.Event
}

func (c *captureTransport) Flush(timeout time.Duration) bool       { return true }
func (c *captureTransport) Configure(options sentry.ClientOptions) {}
func (c *captureTransport) Close()                                 {}
func (c *captureTransport) SendEvent(event *sentry.Event) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.events = append(c.events, event)
}

func (c *captureTransport) all() []*sentry.Event {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]*sentry.Event{}, c.events...)
}

func newTestHub(t *testing.T) (*sentry.Hub, *captureTransport) {
	transport := &captureTransport{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:       "http://whatever@example.com/1337",
		Transport: transport,
	})
	require.NoError(t, err)
	return sentry.NewHub(client, sentry.NewScope()), transport
}

func classified(kind apierrors.Kind) (*apierrors.ClassifiedError, apierrors.Context) {
	err := &apierrors.ClassifiedError{
		Kind:     kind,
		Status:   http.StatusServiceUnavailable,
		Method:   http.MethodGet,
		Target:   "/orders",
		Attempts: 4,
	}
	return err, err.Context("req-1")
}

func TestSentrySinkTagsEvents(t *testing.T) {
	hub, transport := newTestHub(t)
	sink, err := NewSentrySink(WithHub(hub))
	require.NoError(t, err)

	sink.Report(classified(apierrors.KindPermanent))

	events := transport.all()
	require.Len(t, events, 1)
	assert.Equal(t, sentry.LevelError, events[0].Level)
	assert.Equal(t, "/orders", events[0].Tags["api"])
	assert.Equal(t, "503", events[0].Tags["status"])
	assert.Equal(t, "4", events[0].Tags["attempts"])
	assert.Equal(t, "req-1", events[0].Tags["request_id"])
	assert.Equal(t, "Permanent", events[0].Tags["kind"])
}

func TestSentrySinkNamesTheLoggedInUser(t *testing.T) {
	hub, transport := newTestHub(t)
	sink, err := NewSentrySink(WithHub(hub))
	require.NoError(t, err)

	sink.LoggedIn("ada")
	sink.Report(classified(apierrors.KindPermanent))
	sink.LoggedOut()
	sink.Report(classified(apierrors.KindPermanent))

	events := transport.all()
	require.Len(t, events, 2)
	assert.Equal(t, "ada", events[0].User.Username)
	assert.Empty(t, events[1].User.Username)
}

func TestSentrySinkSkipsExpectedOutcomes(t *testing.T) {
	hub, transport := newTestHub(t)
	sink, err := NewSentrySink(WithHub(hub))
	require.NoError(t, err)

	sink.Report(classified(apierrors.KindThrottled))
	sink.Report(classified(apierrors.KindCanceled))
	assert.Empty(t, transport.all())
}

func TestAsyncFanOut(t *testing.T) {
	lock := sync.Mutex{}
	kinds := []apierrors.Kind{}
	record := SinkFunc(func(err *apierrors.ClassifiedError, errContext apierrors.Context) {
		lock.Lock()
		defer lock.Unlock()
		kinds = append(kinds, err.Kind)
	})
	panicking := SinkFunc(func(err *apierrors.ClassifiedError, errContext apierrors.Context) {
		panic("broken sink")
	})
	async := NewAsync(Multi{record, LogSink{}})
	async.Report(classified(apierrors.KindNotFound))
	async.Report(classified(apierrors.KindTransient))
	async.Wait()

	assert.ElementsMatch(t, []apierrors.Kind{apierrors.KindNotFound, apierrors.KindTransient}, kinds)

	broken := NewAsync(panicking)
	assert.NotPanics(t, func() {
		broken.Report(classified(apierrors.KindNotFound))
		broken.Wait()
	})
}
