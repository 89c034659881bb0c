package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/refresh"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/transport"
)

func (d *Dispatcher) call(ctx context.Context, method, target string, options ...models.DescriptorOption) (models.Response, error) {
	descriptor, err := models.NewDescriptor(method, target, options...)
	if err != nil {
		return models.Response{}, err
	}
	return d.Execute(ctx, descriptor)
}

func (d *Dispatcher) Get(ctx context.Context, target string, query url.Values) (models.Response, error) {
	return d.call(ctx, http.MethodGet, target, models.WithQuery(query))
}

func (d *Dispatcher) Delete(ctx context.Context, target string, query url.Values) (models.Response, error) {
	return d.call(ctx, http.MethodDelete, target, models.WithQuery(query))
}

// Post sends the body encoded as JSON
func (d *Dispatcher) Post(ctx context.Context, target string, body any) (models.Response, error) {
	return d.call(ctx, http.MethodPost, target, models.WithJSONBody(body))
}

func (d *Dispatcher) Put(ctx context.Context, target string, body any) (models.Response, error) {
	return d.call(ctx, http.MethodPut, target, models.WithJSONBody(body))
}

func (d *Dispatcher) Patch(ctx context.Context, target string, body any) (models.Response, error) {
	return d.call(ctx, http.MethodPatch, target, models.WithJSONBody(body))
}

// Upload posts a raw body, e.g. a multipart form, with the given content type
func (d *Dispatcher) Upload(ctx context.Context, target string, contentType string, body io.Reader) (models.Response, error) {
	content, err := io.ReadAll(body)
	if err != nil {
		return models.Response{}, fmt.Errorf("reading the upload failed: %w", err)
	}
	return d.call(ctx, http.MethodPost, target, models.WithRawBody(content), models.WithHeader("Content-Type", contentType))
}

// Download writes the raw response body to w and returns the number of bytes written
func (d *Dispatcher) Download(ctx context.Context, target string, query url.Values, w io.Writer) (int64, error) {
	res, err := d.Get(ctx, target, query)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(res.Body)
	return int64(n), err
}

// Decode unmarshals the unwrapped payload of the response, an empty payload leaves out untouched
func Decode(res models.Response, out any) error {
	if len(res.Data) == 0 || string(res.Data) == "null" {
		return nil
	}
	return json.Unmarshal(res.Data, out)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges the user's credentials for a credential and stores it
func (d *Dispatcher) Login(ctx context.Context, username, password string) (models.Credential, error) {
	res, err := d.call(
		ctx,
		http.MethodPost,
		d.loginPath,
		models.WithJSONBody(loginRequest{Username: username, Password: password}),
		models.WithoutCredential(),
		models.WithoutRetry(),
	)
	if err != nil {
		return models.Credential{}, err
	}
	credential, err := refresh.ParseTokenResponse(transport.Response{Status: res.Status, Body: res.Body}, time.Now())
	if err != nil {
		return models.Credential{}, err
	}
	err = d.replaceCredential(ctx, credential)
	if err != nil {
		return models.Credential{}, err
	}
	if d.sessions != nil {
		d.sessions.LoggedIn(username)
	}
	slog.Info("DISPATCHER", "message", "logged in", "credential", credential)
	return credential, nil
}

// Logout notifies the remote API and always clears the stored credential. The notification
// is best effort and does not go through the retry or refresh stages.
func (d *Dispatcher) Logout(ctx context.Context) error {
	credential, hasCredential := d.credential(ctx, models.RequestDescriptor{})
	if hasCredential {
		requestID, err := d.ids.ID()
		if err == nil {
			descriptor, _ := models.NewDescriptor(http.MethodPost, d.logoutPath)
			res, err := d.transport.Send(ctx, d.request(models.NewAttempt(descriptor, requestID), credential, true))
			if err != nil {
				slog.Info("DISPATCHER", "message", "notifying the remote API about the logout failed", "error", err)
			} else if res.Status >= 400 {
				slog.Info("DISPATCHER", "message", "the remote API rejected the logout", "status", res.Status)
			}
		}
	}
	if d.sessions != nil {
		d.sessions.LoggedOut()
	}
	return d.clearCredential(ctx)
}

// replaceCredential and clearCredential go through the refresh coordinator when there is one,
// so that a refresh started for the previous session cannot overwrite the result
func (d *Dispatcher) replaceCredential(ctx context.Context, credential models.Credential) error {
	if d.coordinator != nil {
		return d.coordinator.Replace(ctx, credential)
	}
	return d.store.Set(ctx, credential)
}

func (d *Dispatcher) clearCredential(ctx context.Context) error {
	if d.coordinator != nil {
		return d.coordinator.Reset(ctx)
	}
	return d.store.Clear(ctx)
}
