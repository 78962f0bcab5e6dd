package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/artkiosk/kiosk/internal/history"
)

// apiClient talks to the rotator control API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
	delay time.Duration
	tries uint
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
		delay: 250 * time.Millisecond,
		tries: 3,
	}
}

// apiError is a non-2xx response from the control API.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control API: HTTP %d", e.Status)
	}
	return fmt.Sprintf("control API: HTTP %d: %s", e.Status, e.Message)
}

// do sends one request and decodes a JSON response into out. Transport
// errors and 5xx responses of idempotent requests are retried.
func (c *apiClient) do(ctx context.Context, method, path string, out any) error {
	attempts := c.tries
	if method != http.MethodGet {
		attempts = 1
	}
	return retry.Do(
		func() error {
			err := c.once(ctx, method, path, out)
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Status < 500 {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

func (c *apiClient) once(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to control API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) rotate(ctx context.Context) (history.Rotation, error) {
	var rot history.Rotation
	err := c.do(ctx, http.MethodPost, "/api/v1/rotate", &rot)
	return rot, err
}

func (c *apiClient) history(ctx context.Context, limit int) (int64, []history.Rotation, error) {
	var body struct {
		Total     int64              `json:"total"`
		Rotations []history.Rotation `json:"rotations"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	err := c.do(ctx, http.MethodGet, "/api/v1/history?"+q.Encode(), &body)
	return body.Total, body.Rotations, err
}

func (c *apiClient) candidates(ctx context.Context) ([]string, error) {
	var body struct {
		Candidates []string `json:"candidates"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/candidates", &body)
	return body.Candidates, err
}
