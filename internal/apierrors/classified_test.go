package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	cases := map[int]Kind{
		http.StatusOK:                  KindUnknown,
		http.StatusBadRequest:          KindServerRejected,
		http.StatusUnauthorized:        KindAuthExpired,
		http.StatusForbidden:           KindForbidden,
		http.StatusNotFound:            KindNotFound,
		http.StatusConflict:            KindServerRejected,
		http.StatusTooManyRequests:     KindRateLimited,
		http.StatusInternalServerError: KindTransient,
		http.StatusNotImplemented:      KindServerRejected,
		http.StatusBadGateway:          KindTransient,
		http.StatusServiceUnavailable:  KindTransient,
		http.StatusGatewayTimeout:      KindTransient,
	}
	for status, kind := range cases {
		assert.Equalf(t, kind, ClassifyStatus(status), "status %d", status)
	}
}

func TestClassifiedErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ClassifiedError{Kind: KindThrottled, Method: "POST", Target: "/orders"})
	assert.ErrorIs(t, err, ErrThrottled)
	assert.NotErrorIs(t, err, ErrTransient)
	assert.Equal(t, KindThrottled, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestPermanentUnwrapsToTransient(t *testing.T) {
	transient := &ClassifiedError{Kind: KindTransient, Status: http.StatusServiceUnavailable}
	permanent := &ClassifiedError{Kind: KindPermanent, Status: http.StatusServiceUnavailable, Err: transient}
	assert.ErrorIs(t, permanent, ErrPermanent)
	assert.ErrorIs(t, permanent, ErrTransient)
}

func TestClassifiedErrorMessage(t *testing.T) {
	err := &ClassifiedError{Kind: KindNotFound, Status: 404, Method: "GET", Target: "/tickets/9"}
	assert.Equal(t, "GET /tickets/9: the requested resource cannot be found (status 404)", err.Error())
	err = &ClassifiedError{Kind: KindServerRejected, Method: "POST", Target: "/orders", Message: "stock too low"}
	assert.Equal(t, "POST /orders: stock too low", err.Error())
}

func TestKindText(t *testing.T) {
	text, err := KindSessionExpired.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "SessionExpired", string(text))
	assert.Equal(t, "Kind(99)", Kind(99).String())
}
