// Package apierrors contains the errors produced by the request pipeline.
package apierrors

import "fmt"

var ErrCredentialNotFound = fmt.Errorf("the credential cannot be found")
var ErrMissingDBResource = fmt.Errorf("the requested resource cannot be found in the DB")
var ErrNoRefreshToken = fmt.Errorf("the credential does not have a refresh token")
var ErrRefreshFailed = fmt.Errorf("the credential could not be refreshed")
var ErrSessionReplaced = fmt.Errorf("the session was replaced by a login or logout")

// Sentinels for every classified kind, ClassifiedError matches them with errors.Is
var (
	ErrThrottled      = fmt.Errorf("the request was throttled")
	ErrTransient      = fmt.Errorf("the request failed with a transient error")
	ErrPermanent      = fmt.Errorf("the request failed after exhausting retries")
	ErrAuthExpired    = fmt.Errorf("the credential was rejected by the remote API")
	ErrSessionExpired = fmt.Errorf("the session is expired")
	ErrForbidden      = fmt.Errorf("access to the resource is forbidden")
	ErrNotFound       = fmt.Errorf("the requested resource cannot be found")
	ErrRateLimited    = fmt.Errorf("the remote API is rate limiting requests")
	ErrServerRejected = fmt.Errorf("the remote API rejected the request")
	ErrCanceled       = fmt.Errorf("the request was canceled")
)
