// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fithttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alestar328/TraiScore-sub000/fitsync"
)

// TokenFunc returns the bearer token for the next request
type TokenFunc func(ctx context.Context) (string, error)

// StaticToken always returns token
func StaticToken(token string) TokenFunc {
	return func(context.Context) (string, error) { return token, nil }
}

// APIError is a non-2xx response that maps to no fitsync sentinel
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client talks to the document API and implements fitsync.Backend
type Client struct {
	BaseURL string
	Token   TokenFunc
	HTTP    *http.Client
	logger  *slog.Logger
}

var _ fitsync.Backend = (*Client)(nil)

// NewClient creates a client for the API at baseURL
func NewClient(baseURL string, token TokenFunc, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if token == nil {
		return nil, fmt.Errorf("token func is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}, nil
}

// Collection returns the remote collection name
func (c *Client) Collection(name string) fitsync.RemoteStore {
	return &RemoteCollection{client: c, name: name}
}

// RemoteCollection is a fitsync.RemoteStore backed by the document API.
// The user is taken from the bearer token; the userID arguments only scope
// what a caller believes it is writing and are not sent.
type RemoteCollection struct {
	client *Client
	name   string
}

func (rc *RemoteCollection) documentsPath() string {
	return "/v1/" + url.PathEscape(rc.name) + "/documents"
}

func (rc *RemoteCollection) documentPath(id string) string {
	return rc.documentsPath() + "/" + url.PathEscape(id)
}

func (rc *RemoteCollection) Create(ctx context.Context, _ string, doc fitsync.Document) (string, error) {
	var resp CreateResponse
	if err := rc.client.do(ctx, http.MethodPost, rc.documentsPath(), doc, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("server returned an empty document id")
	}
	return resp.ID, nil
}

func (rc *RemoteCollection) Put(ctx context.Context, _ string, remoteID string, doc fitsync.Document) error {
	return rc.client.do(ctx, http.MethodPut, rc.documentPath(remoteID), doc, nil)
}

func (rc *RemoteCollection) Update(ctx context.Context, _ string, remoteID string, doc fitsync.Document) error {
	return rc.client.do(ctx, http.MethodPatch, rc.documentPath(remoteID), doc, nil)
}

func (rc *RemoteCollection) Delete(ctx context.Context, _ string, remoteID string) error {
	return rc.client.do(ctx, http.MethodDelete, rc.documentPath(remoteID), nil, nil)
}

func (rc *RemoteCollection) Get(ctx context.Context, _ string, remoteID string) (fitsync.Document, error) {
	var resp fitsync.RemoteDocument
	if err := rc.client.do(ctx, http.MethodGet, rc.documentPath(remoteID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Document, nil
}

func (rc *RemoteCollection) List(ctx context.Context, _ string) ([]fitsync.RemoteDocument, error) {
	var resp ListResponse
	if err := rc.client.do(ctx, http.MethodGet, rc.documentsPath(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	token, err := c.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get JWT token: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := decodeError(resp)
		c.logger.Debug("Document API request failed", "method", method, "path", path, "error", err)
		return err
	}
	if out == nil {
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var envelope ErrorResponse
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error == "" {
		envelope = ErrorResponse{Error: http.StatusText(resp.StatusCode), Message: string(raw)}
	}
	switch envelope.Error {
	case CodeNotFound:
		return fmt.Errorf("%s: %w", envelope.Message, fitsync.ErrNotFound)
	case CodeInvalidDocument:
		return fmt.Errorf("%s: %w", envelope.Message, fitsync.ErrInvalidDocument)
	}
	return &APIError{StatusCode: resp.StatusCode, Code: envelope.Error, Message: envelope.Message}
}
