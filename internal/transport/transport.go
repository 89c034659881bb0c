// Package transport performs the raw network call for one attempt.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/config"
	"golang.org/x/time/rate"
)

const DefaultTimeout time.Duration = 30 * time.Second

type Request struct {
	Method  string
	Target  string
	Query   url.Values
	Headers http.Header
	Body    []byte
}

type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Transport sends a single request. A non-nil error means that no response was received.
type Transport interface {
	Send(ctx context.Context, request Request) (Response, error)
}

// SendFunc adapts a function to the Transport interface
type SendFunc func(ctx context.Context, request Request) (Response, error)

func (f SendFunc) Send(ctx context.Context, request Request) (Response, error) {
	return f(ctx, request)
}

// HTTPTransport sends requests relative to the base URL of the remote API
type HTTPTransport struct {
	baseURL *url.URL
	client  *http.Client
	limiter *rate.Limiter
}

func (h *HTTPTransport) resolve(request Request) (*url.URL, error) {
	ref, err := url.Parse(request.Target)
	if err != nil {
		return nil, err
	}
	var output *url.URL
	if ref.IsAbs() {
		output = ref
	} else {
		joined := *h.baseURL
		joined.Path = h.baseURL.Path + "/" + strings.TrimPrefix(ref.Path, "/")
		joined.RawPath = ""
		joined.RawQuery = ref.RawQuery
		output = &joined
	}
	if len(request.Query) > 0 {
		query := output.Query()
		for key, values := range request.Query {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		output.RawQuery = query.Encode()
	}
	return output, nil
}

func (h *HTTPTransport) Send(ctx context.Context, request Request) (Response, error) {
	if h.limiter != nil {
		err := h.limiter.Wait(ctx)
		if err != nil {
			return Response{}, err
		}
	}
	target, err := h.resolve(request)
	if err != nil {
		return Response{}, fmt.Errorf("invalid request target %q: %w", request.Target, err)
	}
	var body io.Reader
	if request.Body != nil {
		body = bytes.NewReader(request.Body)
	}
	req, err := http.NewRequestWithContext(ctx, request.Method, target.String(), body)
	if err != nil {
		return Response{}, err
	}
	for key, values := range request.Headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	res, err := h.client.Do(req)
	if err != nil {
		slog.Debug("TRANSPORT", "message", "request failed without a response", "method", request.Method, "target", request.Target, "error", err)
		return Response{}, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading the response body failed: %w", err)
	}
	return Response{Status: res.StatusCode, Headers: res.Header, Body: resBody}, nil
}

func (h *HTTPTransport) BaseURL() *url.URL {
	return h.baseURL
}

type HTTPTransportOption func(*HTTPTransport) error

func WithBaseURL(baseURL *url.URL) HTTPTransportOption {
	return func(h *HTTPTransport) error {
		if baseURL == nil || baseURL.Host == "" {
			return fmt.Errorf("the base URL needs a host")
		}
		output := *baseURL
		output.Path = strings.TrimSuffix(output.Path, "/")
		h.baseURL = &output
		return nil
	}
}

func WithTimeout(timeout time.Duration) HTTPTransportOption {
	return func(h *HTTPTransport) error {
		if timeout <= 0 {
			return fmt.Errorf("the timeout has to be positive, got %s", timeout)
		}
		h.client.Timeout = timeout
		return nil
	}
}

func WithHTTPClient(client *http.Client) HTTPTransportOption {
	return func(h *HTTPTransport) error {
		if client == nil {
			return fmt.Errorf("the http client cannot be nil")
		}
		h.client = client
		return nil
	}
}

// WithRateLimit paces outbound requests, callers wait for a token before the request is sent
func WithRateLimit(perSecond float64, burst int) HTTPTransportOption {
	return func(h *HTTPTransport) error {
		if perSecond <= 0 || burst <= 0 {
			return fmt.Errorf("the rate limit needs a positive rate and burst, got %v and %d", perSecond, burst)
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

func WithConfig(clientConfig config.ClientConfig) HTTPTransportOption {
	return func(h *HTTPTransport) error {
		err := WithBaseURL(clientConfig.BaseURL)(h)
		if err != nil {
			return err
		}
		err = WithTimeout(clientConfig.Timeout)(h)
		if err != nil {
			return err
		}
		if clientConfig.RateLimits.Enabled {
			return WithRateLimit(clientConfig.RateLimits.Rate, clientConfig.RateLimits.Burst)(h)
		}
		return nil
	}
}

func NewHTTPTransport(options ...HTTPTransportOption) (*HTTPTransport, error) {
	h := HTTPTransport{client: &http.Client{Timeout: DefaultTimeout}}
	for _, opt := range options {
		err := opt(&h)
		if err != nil {
			return nil, err
		}
	}
	if h.baseURL == nil {
		return nil, fmt.Errorf("the base URL of the remote API is not set")
	}
	return &h, nil
}
