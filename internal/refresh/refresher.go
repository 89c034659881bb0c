package refresh

import (
	"fmt"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/transport"
)

// NewRefresherFromConfig creates the refresher selected by the refresh mode
func NewRefresherFromConfig(refreshConfig config.RefreshConfig, t transport.Transport) (Refresher, error) {
	switch refreshConfig.Mode {
	case config.RefreshModeEndpoint:
		return NewEndpointRefresher(WithTransport(t), WithRefreshPath(refreshConfig.RefreshPath))
	case config.RefreshModeOAuth2:
		return NewOAuth2Refresher(WithOAuth2Config(refreshConfig))
	default:
		return nil, fmt.Errorf("unknown refresh mode %q", refreshConfig.Mode)
	}
}
