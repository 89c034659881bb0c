package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable classification of a pipeline failure
type Kind int

const (
	KindUnknown Kind = iota
	KindThrottled
	KindTransient
	KindPermanent
	KindAuthExpired
	KindSessionExpired
	KindForbidden
	KindNotFound
	KindRateLimited
	KindServerRejected
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:        "Unknown",
	KindThrottled:      "Throttled",
	KindTransient:      "Transient",
	KindPermanent:      "Permanent",
	KindAuthExpired:    "AuthExpired",
	KindSessionExpired: "SessionExpired",
	KindForbidden:      "Forbidden",
	KindNotFound:       "NotFound",
	KindRateLimited:    "RateLimited",
	KindServerRejected: "ServerRejected",
	KindCanceled:       "Canceled",
}

var kindSentinels = map[Kind]error{
	KindThrottled:      ErrThrottled,
	KindTransient:      ErrTransient,
	KindPermanent:      ErrPermanent,
	KindAuthExpired:    ErrAuthExpired,
	KindSessionExpired: ErrSessionExpired,
	KindForbidden:      ErrForbidden,
	KindNotFound:       ErrNotFound,
	KindRateLimited:    ErrRateLimited,
	KindServerRejected: ErrServerRejected,
	KindCanceled:       ErrCanceled,
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return name
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ClassifiedError is the error returned to callers of the dispatcher
type ClassifiedError struct {
	Kind     Kind
	Status   int
	Method   string
	Target   string
	Attempts int
	Message  string
	Err      error
}

func (e *ClassifiedError) Error() string {
	msg := e.Message
	if msg == "" {
		if sentinel, ok := kindSentinels[e.Kind]; ok {
			msg = sentinel.Error()
		} else {
			msg = "the request failed"
		}
	}
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Target, msg, e.Err.Error())
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.Target, msg)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind, e.g. errors.Is(err, ErrThrottled)
func (e *ClassifiedError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// Context is the information attached to classified errors when they are reported
type Context struct {
	Method    string
	Target    string
	Status    int
	Attempts  int
	RequestID string
}

func (e *ClassifiedError) Context(requestID string) Context {
	return Context{
		Method:    e.Method,
		Target:    e.Target,
		Status:    e.Status,
		Attempts:  e.Attempts,
		RequestID: requestID,
	}
}

// KindOf returns the kind of a classified error anywhere in the chain
func KindOf(err error) Kind {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}

// ClassifyStatus maps a response status of the remote API to an error kind.
// Statuses below 400 are not failures and map to KindUnknown.
func ClassifyStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindAuthExpired
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindTransient
	}
	if status >= 400 {
		return KindServerRejected
	}
	return KindUnknown
}
