// Package apiproxy exposes the request pipeline over HTTP so that browser callers share one
// credential, one throttle and one refresh coordinator.
//
// The proxy holds a single session: anyone who can reach it acts as the user who logged in
// last. It listens on the loopback interface unless server.host says otherwise, and should
// only be exposed to the one user it serves.
package apiproxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/dispatcher"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
	"github.com/labstack/echo/v4"
)

// forwardedHeaders are copied from the incoming request to the remote API
var forwardedHeaders = []string{echo.HeaderContentType, echo.HeaderAccept, dispatcher.HeaderTenantID}

type Client interface {
	Execute(ctx context.Context, descriptor models.RequestDescriptor) (models.Response, error)
	Login(ctx context.Context, username, password string) (models.Credential, error)
	Logout(ctx context.Context) error
}

type Server struct {
	client    Client
	apiPrefix string
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) RegisterHandlers(server *echo.Echo, commonMiddlewares ...echo.MiddlewareFunc) {
	authMiddlewares := append(append([]echo.MiddlewareFunc{}, commonMiddlewares...), NoCaching)
	server.POST("/auth/login", s.postLogin, authMiddlewares...)
	server.POST("/auth/logout", s.postLogout, authMiddlewares...)
	server.Any(s.apiPrefix+"/*", s.forward, commonMiddlewares...)
}

func (s *Server) postLogin(c echo.Context) error {
	var req loginRequest
	err := c.Bind(&req)
	if err != nil || req.Username == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Kind: "BadRequest", Message: "a username and a password are required"})
	}
	credential, err := s.client.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return s.classifiedError(c, err)
	}
	return c.JSON(http.StatusOK, loginResponse{ExpiresAt: credential.ExpiresAt})
}

func (s *Server) postLogout(c echo.Context) error {
	err := s.client.Logout(c.Request().Context())
	if err != nil {
		slog.Error("API PROXY", "message", "logout failed", "error", err, "requestID", c.Response().Header().Get(echo.HeaderXRequestID))
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// forward sends the incoming call through the dispatcher and copies the raw response back
func (s *Server) forward(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	options := []models.DescriptorOption{models.WithQuery(req.URL.Query())}
	if len(body) > 0 {
		options = append(options, models.WithRawBody(body))
	}
	for _, header := range forwardedHeaders {
		if value := req.Header.Get(header); value != "" {
			options = append(options, models.WithHeader(header, value))
		}
	}
	target := "/" + strings.TrimPrefix(req.URL.Path, s.apiPrefix+"/")
	descriptor, err := models.NewDescriptor(req.Method, target, options...)
	if err != nil {
		return err
	}
	res, err := s.client.Execute(req.Context(), descriptor)
	if err != nil {
		return s.classifiedError(c, err)
	}
	contentType := res.Headers.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(res.Status, contentType, res.Body)
}

func (s *Server) classifiedError(c echo.Context, err error) error {
	kind := apierrors.KindOf(err)
	if kind == apierrors.KindUnknown {
		return err
	}
	return c.JSON(StatusOf(err), errorResponse{Kind: kind.String(), Message: err.Error()})
}

// StatusOf maps a classified error to the status returned to the browser
func StatusOf(err error) int {
	switch apierrors.KindOf(err) {
	case apierrors.KindThrottled:
		return http.StatusConflict
	case apierrors.KindTransient:
		return http.StatusBadGateway
	case apierrors.KindPermanent:
		return http.StatusServiceUnavailable
	case apierrors.KindAuthExpired, apierrors.KindSessionExpired:
		return http.StatusUnauthorized
	case apierrors.KindForbidden:
		return http.StatusForbidden
	case apierrors.KindNotFound:
		return http.StatusNotFound
	case apierrors.KindRateLimited:
		return http.StatusTooManyRequests
	case apierrors.KindServerRejected:
		return http.StatusUnprocessableEntity
	case apierrors.KindCanceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

type ServerOption func(*Server) error

func WithClient(client Client) ServerOption {
	return func(s *Server) error {
		s.client = client
		return nil
	}
}

// WithAPIPrefix sets the path under which calls are forwarded, the prefix is stripped
func WithAPIPrefix(prefix string) ServerOption {
	return func(s *Server) error {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("the api prefix has to start with a slash, got %q", prefix)
		}
		s.apiPrefix = strings.TrimSuffix(prefix, "/")
		return nil
	}
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := Server{apiPrefix: "/api"}
	for _, opt := range options {
		err := opt(&server)
		if err != nil {
			return nil, err
		}
	}
	if server.client == nil {
		return nil, fmt.Errorf("the api client is not initialized")
	}
	return &server, nil
}
