package models

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// RequestDescriptor describes one logical call against the remote API. It is treated as
// immutable once handed to the dispatcher.
type RequestDescriptor struct {
	Method        string
	Target        string
	Query         url.Values
	Body          []byte
	Headers       http.Header
	RetryEligible bool
	// Anonymous calls carry no credential and a 401 does not trigger a refresh
	Anonymous bool
}

type DescriptorOption func(*RequestDescriptor) error

func WithQuery(query url.Values) DescriptorOption {
	return func(d *RequestDescriptor) error {
		d.Query = query
		return nil
	}
}

func WithRawBody(body []byte) DescriptorOption {
	return func(d *RequestDescriptor) error {
		d.Body = body
		return nil
	}
}

// WithJSONBody marshals the value and uses it as the request body
func WithJSONBody(value any) DescriptorOption {
	return func(d *RequestDescriptor) error {
		if value == nil {
			return nil
		}
		body, err := json.Marshal(value)
		if err != nil {
			return err
		}
		d.Body = body
		return nil
	}
}

func WithHeader(key, value string) DescriptorOption {
	return func(d *RequestDescriptor) error {
		if d.Headers == nil {
			d.Headers = http.Header{}
		}
		d.Headers.Set(key, value)
		return nil
	}
}

// WithoutRetry marks the call as not eligible for transient-failure retries
func WithoutRetry() DescriptorOption {
	return func(d *RequestDescriptor) error {
		d.RetryEligible = false
		return nil
	}
}

func WithoutCredential() DescriptorOption {
	return func(d *RequestDescriptor) error {
		d.Anonymous = true
		return nil
	}
}

func NewDescriptor(method string, target string, options ...DescriptorOption) (RequestDescriptor, error) {
	d := RequestDescriptor{
		Method:        strings.ToUpper(strings.TrimSpace(method)),
		Target:        target,
		RetryEligible: true,
	}
	if d.Method == "" {
		d.Method = http.MethodGet
	}
	for _, opt := range options {
		err := opt(&d)
		if err != nil {
			return RequestDescriptor{}, err
		}
	}
	return d, nil
}

// IsRead is true for calls without side effects, those are safe to repeat.
func (d RequestDescriptor) IsRead() bool {
	switch d.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Attempt is the bookkeeping for one try of a logical call. Advancing it returns a new
// value, the descriptor is never modified.
type Attempt struct {
	Descriptor       RequestDescriptor
	RequestID        string
	Count            int
	RefreshAttempted bool
}

func NewAttempt(d RequestDescriptor, requestID string) Attempt {
	return Attempt{Descriptor: d, RequestID: requestID}
}

// Retried returns the attempt that follows a transient failure
func (a Attempt) Retried() Attempt {
	output := a
	output.Count++
	return output
}

// Resumed returns the attempt that follows a successful credential refresh
func (a Attempt) Resumed() Attempt {
	output := a
	output.RefreshAttempted = true
	return output
}

// Response is the outcome of a successful call. Data holds the unwrapped payload.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
	Data    json.RawMessage
}
