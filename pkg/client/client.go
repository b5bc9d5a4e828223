package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/burrowctf/burrow/pkg/types"
)

// callTimeout bounds every request issued by the client.
const callTimeout = 10 * time.Second

// Client is a typed HTTP client for the broker API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// New returns a client for the broker listening at baseURL. The key is
// sent in the Authorization header on every request.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: callTimeout},
	}
}

// Error is the decoded body of a non-2xx API response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker: %s (status %d)", e.Message, e.Status)
}

// IsNotFound reports whether err is an API error with status 404.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsForbidden reports whether err is an API error with status 403.
func IsForbidden(err error) bool { return hasStatus(err, http.StatusForbidden) }

// IsUnavailable reports whether err is an API error with status 503.
func IsUnavailable(err error) bool { return hasStatus(err, http.StatusServiceUnavailable) }

func hasStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type assignRequest struct {
	Challenge string `json:"challenge"`
	User      string `json:"user"`
}

type resetRequest struct {
	User string `json:"user"`
}

// deployRequest carries every manifest field without omitempty so a
// zero lifetime or a false can_prestart still reaches the server.
type deployRequest struct {
	Name        string `json:"name"`
	Port        int    `json:"port"`
	Lifetime    int64  `json:"lifetime"`
	MemLimit    int64  `json:"mem_limit"`
	UserLimit   int    `json:"user_limit"`
	CanPrestart bool   `json:"can_prestart"`
}

// Assign requests an instance of challenge for user. The broker either
// reuses a running instance with a free seat or starts a fresh one.
func (c *Client) Assign(challenge, user string) (*types.Instance, error) {
	var inst types.Instance
	if err := c.do(http.MethodPost, "/", assignRequest{Challenge: challenge, User: user}, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstances returns the container IDs of every live instance.
func (c *Client) ListInstances() ([]string, error) {
	var ids []string
	if err := c.do(http.MethodGet, "/", nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetInstance fetches the record of a single instance.
func (c *Client) GetInstance(containerID string) (*types.Instance, error) {
	var inst types.Instance
	if err := c.do(http.MethodGet, "/"+url.PathEscape(containerID), nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// InstanceForUser returns the instance the user is currently assigned
// to, or an error with status 404 when they have none.
func (c *Client) InstanceForUser(user string) (*types.Instance, error) {
	var inst types.Instance
	if err := c.do(http.MethodGet, "/user/"+url.PathEscape(user), nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// DockerStats returns live resource usage for an instance container.
func (c *Client) DockerStats(containerID string) (*types.DockerStats, error) {
	var stats types.DockerStats
	if err := c.do(http.MethodGet, "/"+url.PathEscape(containerID)+"/docker_stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Reset tears down the instance the user is assigned to and returns
// their replacement. The broker rejects the call with status 403 when
// containerID is not the caller's current assignment.
func (c *Client) Reset(user, containerID string) (*types.Instance, error) {
	var inst types.Instance
	if err := c.do(http.MethodPost, "/reset/"+url.PathEscape(containerID), resetRequest{User: user}, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Disconnect releases the user's seat. It succeeds even when the user
// holds no assignment.
func (c *Client) Disconnect(user string) error {
	return c.do(http.MethodPost, "/disconnect/"+url.PathEscape(user), nil, nil)
}

// DeployChallenge registers a challenge whose build context was placed
// under the broker's challenge directory. The broker acknowledges
// before the image build finishes.
func (c *Client) DeployChallenge(ch types.Challenge) error {
	req := deployRequest{
		Name:        ch.Name,
		Port:        ch.InternalPort,
		Lifetime:    ch.LifetimeSeconds,
		MemLimit:    ch.MemLimitMB,
		UserLimit:   ch.UserLimit,
		CanPrestart: ch.CanPrestart,
	}
	return c.do(http.MethodPost, "/challenges", req, nil)
}

// RemoveChallenge drops a challenge from the catalog. Its instances
// drain through the cleanup loop.
func (c *Client) RemoveChallenge(name string) error {
	return c.do(http.MethodDelete, "/challenges/"+url.PathEscape(name), nil, nil)
}

// Stats returns fleet-wide counters.
func (c *Client) Stats() (*types.BrokerStats, error) {
	var stats types.BrokerStats
	if err := c.do(http.MethodGet, "/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Logs fetches the container log of an instance.
func (c *Client) Logs(containerID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/log/"+url.PathEscape(containerID), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read log body: %w", err)
	}
	return string(data), nil
}

// Ready probes the readiness endpoint. It returns nil once the broker
// reaches both its state store and the container runtime.
func (c *Client) Ready() error {
	return c.do(http.MethodGet, "/readyz", nil, nil)
}

// do issues one API call. A nil in sends no body, a nil out discards
// the response body.
func (c *Client) do(method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{Status: resp.StatusCode, Message: msg}
}
