package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/transport"
)

const DefaultRefreshPath string = "/auth/refresh-token"

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// EndpointRefresher posts the refresh token to the refresh endpoint of the remote API.
// It uses the raw transport so that the refresh never goes through the dispatcher.
type EndpointRefresher struct {
	transport transport.Transport
	path      string
	now       func() time.Time
}

func (e *EndpointRefresher) Refresh(ctx context.Context, current models.Credential) (models.Credential, error) {
	if current.RefreshToken == "" {
		return models.Credential{}, apierrors.ErrNoRefreshToken
	}
	body, err := json.Marshal(refreshRequest{RefreshToken: current.RefreshToken})
	if err != nil {
		return models.Credential{}, err
	}
	res, err := e.transport.Send(ctx, transport.Request{
		Method:  http.MethodPost,
		Target:  e.path,
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		Body:    body,
	})
	if err != nil {
		return models.Credential{}, fmt.Errorf("%w: %w", apierrors.ErrRefreshFailed, err)
	}
	return ParseTokenResponse(res, e.now())
}

// ParseTokenResponse reads the credential out of a login or refresh response
func ParseTokenResponse(res transport.Response, now time.Time) (models.Credential, error) {
	if res.Status < 200 || res.Status >= 300 {
		return models.Credential{}, fmt.Errorf("%w: the remote API responded with status %d", apierrors.ErrRefreshFailed, res.Status)
	}
	payload := res.Body
	env, isEnvelope := models.ParseEnvelope(res.Body)
	if isEnvelope {
		if !env.Succeeded() {
			return models.Credential{}, fmt.Errorf("%w: %s (code %d)", apierrors.ErrRefreshFailed, env.Message, *env.Code)
		}
		payload = env.Data
	}
	var tokenResponse models.TokenResponse
	err := json.Unmarshal(payload, &tokenResponse)
	if err != nil {
		return models.Credential{}, fmt.Errorf("%w: cannot decode the token response: %w", apierrors.ErrRefreshFailed, err)
	}
	credential, err := tokenResponse.Credential(now)
	if err != nil {
		return models.Credential{}, fmt.Errorf("%w: %w", apierrors.ErrRefreshFailed, err)
	}
	return credential, nil
}

type EndpointRefresherOption func(*EndpointRefresher) error

func WithTransport(t transport.Transport) EndpointRefresherOption {
	return func(e *EndpointRefresher) error {
		e.transport = t
		return nil
	}
}

func WithRefreshPath(path string) EndpointRefresherOption {
	return func(e *EndpointRefresher) error {
		if path == "" {
			return fmt.Errorf("the refresh path cannot be empty")
		}
		e.path = path
		return nil
	}
}

func WithClock(now func() time.Time) EndpointRefresherOption {
	return func(e *EndpointRefresher) error {
		e.now = now
		return nil
	}
}

func NewEndpointRefresher(options ...EndpointRefresherOption) (*EndpointRefresher, error) {
	e := EndpointRefresher{path: DefaultRefreshPath, now: time.Now}
	for _, opt := range options {
		err := opt(&e)
		if err != nil {
			return nil, err
		}
	}
	if e.transport == nil {
		return nil, fmt.Errorf("the transport is not initialized")
	}
	return &e, nil
}
