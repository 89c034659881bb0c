// Package metrics counts the outcomes of the request pipeline.
package metrics

import (
	"fmt"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace string = "apiclient"

const (
	RefreshSucceeded string = "success"
	RefreshFailed    string = "failure"
	RefreshSkipped   string = "stale"
)

// Metrics is safe to use through a nil pointer, in that case nothing is recorded
type Metrics struct {
	registerer prometheus.Registerer
	requests   *prometheus.CounterVec
	throttled  prometheus.Counter
	retries    prometheus.Counter
	refreshes  *prometheus.CounterVec
}

// ObserveOutcome counts one finished logical call, labelled with the error kind or "success"
func (m *Metrics) ObserveOutcome(method string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = apierrors.KindOf(err).String()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) ObserveThrottled() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}

func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

type MetricsOption func(*Metrics) error

// WithRegisterer registers the collectors somewhere else than the default prometheus registry
func WithRegisterer(registerer prometheus.Registerer) MetricsOption {
	return func(m *Metrics) error {
		if registerer == nil {
			return fmt.Errorf("the prometheus registerer cannot be nil")
		}
		m.registerer = registerer
		return nil
	}
}

func NewMetrics(options ...MetricsOption) (*Metrics, error) {
	m := Metrics{
		registerer: prometheus.DefaultRegisterer,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Logical calls finished by the dispatcher, by method and outcome.",
		}, []string{"method", "outcome"}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_total",
			Help:      "Calls rejected as duplicates without reaching the remote API.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Attempts repeated after a transient failure.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_refreshes_total",
			Help:      "Credential refresh requests, by result.",
		}, []string{"result"}),
	}
	for _, opt := range options {
		err := opt(&m)
		if err != nil {
			return nil, err
		}
	}
	for _, collector := range []prometheus.Collector{m.requests, m.throttled, m.retries, m.refreshes} {
		err := m.registerer.Register(collector)
		if err != nil {
			return nil, err
		}
	}
	return &m, nil
}
