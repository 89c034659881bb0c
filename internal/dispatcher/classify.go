package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/transport"
)

const maxMessageLength int = 256

// classify turns the outcome of one raw call into a response or a classified error
func classify(descriptor models.RequestDescriptor, res transport.Response, sendErr error, attempts int) (models.Response, *apierrors.ClassifiedError) {
	if sendErr != nil {
		return models.Response{}, &apierrors.ClassifiedError{
			Kind:     apierrors.KindTransient,
			Method:   descriptor.Method,
			Target:   descriptor.Target,
			Attempts: attempts,
			Message:  "no response from the remote API",
			Err:      sendErr,
		}
	}
	env, isEnvelope := models.ParseEnvelope(res.Body)
	if res.Status >= 400 {
		return models.Response{}, &apierrors.ClassifiedError{
			Kind:     apierrors.ClassifyStatus(res.Status),
			Status:   res.Status,
			Method:   descriptor.Method,
			Target:   descriptor.Target,
			Attempts: attempts,
			Message:  failureMessage(res, env, isEnvelope),
		}
	}
	response := models.Response{Status: res.Status, Headers: res.Headers, Body: res.Body, Data: res.Body}
	if !isEnvelope {
		return response, nil
	}
	if !env.Succeeded() {
		return models.Response{}, &apierrors.ClassifiedError{
			Kind:     apierrors.KindServerRejected,
			Status:   res.Status,
			Method:   descriptor.Method,
			Target:   descriptor.Target,
			Attempts: attempts,
			Message:  failureMessage(res, env, isEnvelope),
		}
	}
	response.Data = env.Data
	return response, nil
}

func failureMessage(res transport.Response, env models.Envelope, isEnvelope bool) string {
	if isEnvelope && env.Message != "" {
		return env.Message
	}
	if strings.HasPrefix(res.Headers.Get("Content-Type"), "text/plain") {
		msg := strings.TrimSpace(string(res.Body))
		if len(msg) > maxMessageLength {
			msg = msg[:maxMessageLength]
		}
		if msg != "" {
			return msg
		}
	}
	if text := http.StatusText(res.Status); text != "" {
		return strings.ToLower(text)
	}
	return "the remote API rejected the request"
}

func canceled(descriptor models.RequestDescriptor, attempts int, err error) *apierrors.ClassifiedError {
	return &apierrors.ClassifiedError{
		Kind:     apierrors.KindCanceled,
		Method:   descriptor.Method,
		Target:   descriptor.Target,
		Attempts: attempts,
		Err:      err,
	}
}

// refreshFailure classifies an error returned by the refresh coordinator
func refreshFailure(descriptor models.RequestDescriptor, attempts int, err error) *apierrors.ClassifiedError {
	kind := apierrors.KindSessionExpired
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if !errors.Is(err, apierrors.ErrSessionExpired) {
			kind = apierrors.KindCanceled
		}
	}
	return &apierrors.ClassifiedError{
		Kind:     kind,
		Status:   http.StatusUnauthorized,
		Method:   descriptor.Method,
		Target:   descriptor.Target,
		Attempts: attempts,
		Err:      err,
	}
}
