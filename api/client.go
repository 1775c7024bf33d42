// Package api is the REST client for the ForgeAI backend. Requests go through the
// session pipeline, so authorization and token refresh are handled below this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxResponseBody = 4 << 20

// Profile is the extended user record served by /auth/me.
type Profile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client. httpClient is expected to carry the session pipeline.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// GetProfile fetches the signed-in user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var envelope struct {
		Data Profile `json:"data"`
	}
	if err := c.Get(ctx, "/auth/me", &envelope); err != nil {
		return nil, err
	}
	return &envelope.Data, nil
}

func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) Put(ctx context.Context, path string, in, out interface{}) error {
	return c.do(ctx, http.MethodPut, path, in, out)
}

func (c *Client) Delete(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "[api %s %s] encode request", method, path)
		}
		// bytes.Reader lets the pipeline replay the body after a token refresh
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrapf(err, "[api %s %s] build request", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debug().Str("method", method).Str("path", path).Msg("api request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("method", method).Str("path", path).Msg("api request failed")
		return newTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return newTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := newResponseError(resp.StatusCode, data)
		log.Error().Int("status", reqErr.StatusCode).Str("code", reqErr.Code).Str("path", path).Msg(reqErr.Message)
		return reqErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &RequestError{
			Message:    "Malformed response from server",
			Code:       CodeUnknown,
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	return nil
}
