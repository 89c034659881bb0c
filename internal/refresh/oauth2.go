package refresh

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
	"golang.org/x/oauth2"
)

// OAuth2Refresher uses the refresh_token grant against an OAuth2 token endpoint
type OAuth2Refresher struct {
	config *oauth2.Config
	client *http.Client
}

func (o *OAuth2Refresher) Refresh(ctx context.Context, current models.Credential) (models.Credential, error) {
	if current.RefreshToken == "" {
		return models.Credential{}, apierrors.ErrNoRefreshToken
	}
	if o.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.client)
	}
	// the expiry in the past forces the token source to call the token endpoint
	stale := &oauth2.Token{
		AccessToken:  current.AccessToken,
		RefreshToken: current.RefreshToken,
		Expiry:       time.Unix(1, 0),
	}
	token, err := o.config.TokenSource(ctx, stale).Token()
	if err != nil {
		return models.Credential{}, fmt.Errorf("%w: %w", apierrors.ErrRefreshFailed, err)
	}
	credential := models.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.UTC(),
	}
	if credential.RefreshToken == "" {
		credential.RefreshToken = current.RefreshToken
	}
	if token.Expiry.IsZero() {
		expiresAt, err := models.JWTExpiry(token.AccessToken)
		if err == nil {
			credential.ExpiresAt = expiresAt
		}
	}
	return credential, nil
}

type OAuth2RefresherOption func(*OAuth2Refresher) error

func WithOAuth2Config(refreshConfig config.RefreshConfig) OAuth2RefresherOption {
	return func(o *OAuth2Refresher) error {
		if refreshConfig.TokenURL == nil || refreshConfig.ClientID == "" {
			return fmt.Errorf("the token URL and the client ID are required")
		}
		o.config = &oauth2.Config{
			ClientID:     refreshConfig.ClientID,
			ClientSecret: string(refreshConfig.ClientSecret),
			Endpoint: oauth2.Endpoint{
				TokenURL:  refreshConfig.TokenURL.String(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		return nil
	}
}

func WithOAuth2HTTPClient(client *http.Client) OAuth2RefresherOption {
	return func(o *OAuth2Refresher) error {
		o.client = client
		return nil
	}
}

func NewOAuth2Refresher(options ...OAuth2RefresherOption) (*OAuth2Refresher, error) {
	o := OAuth2Refresher{}
	for _, opt := range options {
		err := opt(&o)
		if err != nil {
			return nil, err
		}
	}
	if o.config == nil {
		return nil, fmt.Errorf("the oauth2 configuration is not set")
	}
	return &o, nil
}
