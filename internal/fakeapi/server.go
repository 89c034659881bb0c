// Package fakeapi is an in-process stand-in for the remote API. It speaks the envelope,
// login and refresh protocol and lets tests script failures.
package fakeapi

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

type envelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type failure struct {
	status    int
	remaining int
}

// Server is a fake remote API. The zero value is not usable, create it with New.
type Server struct {
	Username     string
	Password     string
	TokenTTL     time.Duration
	refreshDelay time.Duration

	lock          sync.Mutex
	accessTokens  map[string]bool
	refreshTokens map[string]bool
	failures      map[string]*failure
	hits          map[string]int
	refreshes     int
	lastHeaders   http.Header
	ids           models.IDGenerator
	signingKey    []byte
	server        *httptest.Server
}

func (s *Server) respond(c echo.Context, status int, code int, message string, data any) error {
	return c.JSON(status, envelope{Code: code, Message: message, Data: data, Timestamp: time.Now().Unix()})
}

func (s *Server) mintAccessToken() (string, error) {
	jti, err := s.ids.ID()
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        jti,
		Subject:   s.Username,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.TokenTTL)),
	})
	return token.SignedString(s.signingKey)
}

// issue creates a new token pair, the caller must hold the lock
func (s *Server) issue() (models.TokenResponse, error) {
	accessToken, err := s.mintAccessToken()
	if err != nil {
		return models.TokenResponse{}, err
	}
	refreshToken, err := s.ids.ID()
	if err != nil {
		return models.TokenResponse{}, err
	}
	s.accessTokens[accessToken] = true
	s.refreshTokens[refreshToken] = true
	return models.TokenResponse{Token: accessToken, RefreshToken: refreshToken, ExpiresIn: int64(s.TokenTTL.Seconds())}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) postLogin(c echo.Context) error {
	var req loginRequest
	err := c.Bind(&req)
	if err != nil {
		return s.respond(c, http.StatusBadRequest, http.StatusBadRequest, "invalid login request", nil)
	}
	if req.Username != s.Username || req.Password != s.Password {
		return s.respond(c, http.StatusUnauthorized, http.StatusUnauthorized, "invalid username or password", nil)
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	tokens, err := s.issue()
	if err != nil {
		return err
	}
	return s.respond(c, http.StatusOK, http.StatusOK, "ok", tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) postRefresh(c echo.Context) error {
	var req refreshRequest
	err := c.Bind(&req)
	if err != nil {
		return s.respond(c, http.StatusBadRequest, http.StatusBadRequest, "invalid refresh request", nil)
	}
	if s.refreshDelay > 0 {
		time.Sleep(s.refreshDelay)
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.refreshes++
	if !s.refreshTokens[req.RefreshToken] {
		return s.respond(c, http.StatusUnauthorized, http.StatusUnauthorized, "refresh token is invalid or expired", nil)
	}
	// refresh tokens are single use
	delete(s.refreshTokens, req.RefreshToken)
	tokens, err := s.issue()
	if err != nil {
		return err
	}
	return s.respond(c, http.StatusOK, http.StatusOK, "ok", tokens)
}

func (s *Server) postLogout(c echo.Context) error {
	token := bearerToken(c.Request())
	s.lock.Lock()
	delete(s.accessTokens, token)
	s.lock.Unlock()
	return s.respond(c, http.StatusOK, http.StatusOK, "ok", nil)
}

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get(echo.HeaderAuthorization), "Bearer ")
}

// authenticate rejects calls without a valid access token and applies scripted failures
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		s.lock.Lock()
		s.hits[path]++
		s.lastHeaders = c.Request().Header.Clone()
		if f, found := s.failures[path]; found && f.remaining > 0 {
			f.remaining--
			s.lock.Unlock()
			return s.respond(c, f.status, f.status, http.StatusText(f.status), nil)
		}
		token := bearerToken(c.Request())
		valid := s.accessTokens[token]
		s.lock.Unlock()
		if !valid || s.verify(token) != nil {
			return s.respond(c, http.StatusUnauthorized, http.StatusUnauthorized, "the access token is invalid or expired", nil)
		}
		return next(c)
	}
}

func (s *Server) verify(token string) error {
	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	return err
}

// echoRequest returns what the fake API received, used to check the forwarded requests
func (s *Server) echoRequest(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	return s.respond(c, http.StatusOK, http.StatusOK, "ok", map[string]any{
		"method":    c.Request().Method,
		"path":      c.Request().URL.Path,
		"query":     c.Request().URL.RawQuery,
		"body":      string(body),
		"tenantId":  c.Request().Header.Get("X-Tenant-Id"),
		"requestId": c.Request().Header.Get("X-Request-Id"),
	})
}

func (s *Server) rejectBusiness(c echo.Context) error {
	return s.respond(c, http.StatusOK, 4001, "the quota for this tenant is exhausted", nil)
}

func (s *Server) plain(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "plain"})
}

// Expire invalidates every issued access token, the refresh tokens stay valid
func (s *Server) Expire() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.accessTokens = map[string]bool{}
}

// RevokeRefreshTokens makes every following refresh fail
func (s *Server) RevokeRefreshTokens() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.refreshTokens = map[string]bool{}
}

// FailNext makes the next n calls to the path fail with the status
func (s *Server) FailNext(path string, status int, n int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failures[path] = &failure{status: status, remaining: n}
}

func (s *Server) Hits(path string) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.hits[path]
}

func (s *Server) Refreshes() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.refreshes
}

func (s *Server) LastHeaders() http.Header {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastHeaders.Clone()
}

func (s *Server) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.POST("/auth/login", s.postLogin)
	e.POST("/auth/refresh-token", s.postRefresh)
	e.POST("/auth/logout", s.postLogout)
	api := e.Group("/api", s.authenticate)
	api.Any("/echo", s.echoRequest)
	api.Any("/echo/*", s.echoRequest)
	api.GET("/rejected", s.rejectBusiness)
	api.GET("/plain", s.plain)
	return e
}

func (s *Server) Start() {
	s.server = httptest.NewServer(s.Handler())
}

func (s *Server) Close() {
	if s.server != nil {
		s.server.Close()
	}
}

func (s *Server) URL() *url.URL {
	if s.server == nil {
		panic("the fake API has not been started")
	}
	output, err := url.Parse(s.server.URL)
	if err != nil {
		panic(err)
	}
	return output
}

type ServerOption func(*Server) error

func WithUser(username, password string) ServerOption {
	return func(s *Server) error {
		if username == "" {
			return fmt.Errorf("the username cannot be empty")
		}
		s.Username = username
		s.Password = password
		return nil
	}
}

func WithTokenTTL(ttl time.Duration) ServerOption {
	return func(s *Server) error {
		s.TokenTTL = ttl
		return nil
	}
}

// WithRefreshDelay slows down the refresh endpoint so that concurrent callers pile up
func WithRefreshDelay(delay time.Duration) ServerOption {
	return func(s *Server) error {
		s.refreshDelay = delay
		return nil
	}
}

func New(options ...ServerOption) (*Server, error) {
	s := Server{
		Username:      "user",
		Password:      "password",
		TokenTTL:      time.Hour,
		accessTokens:  map[string]bool{},
		refreshTokens: map[string]bool{},
		failures:      map[string]*failure{},
		hits:          map[string]int{},
		ids:           models.ULIDGenerator{},
	}
	for _, opt := range options {
		err := opt(&s)
		if err != nil {
			return nil, err
		}
	}
	key, err := models.NewRandomGenerator(32).ID()
	if err != nil {
		return nil, err
	}
	s.signingKey = []byte(key)
	return &s, nil
}
