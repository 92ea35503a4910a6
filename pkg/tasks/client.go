// Package tasks is the client library workflow code uses to call back
// into the orchestration server: starting processes, forking children,
// killing, waiting and suspending. It talks to the internal API using
// the deployment's shared secret.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"procplane/pkg/api"
)

// Client handles calls to the orchestration server's internal API.
type Client struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client
}

// New creates a client for the given server URL and internal secret.
func New(baseURL, secret string) *Client {
	return &Client{
		BaseURL: baseURL,
		Secret:  secret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Start submits a new process and returns the assigned instance ID.
// callerID may be empty; when set, the started process inherits the
// caller's organization and project scope.
func (c *Client) Start(ctx context.Context, callerID string, req api.StartProcessRequest) (string, error) {
	var resp api.TaskResponse
	err := c.task(ctx, api.TaskRequest{
		Action:     api.ActionStart,
		InstanceID: callerID,
		Start:      &req,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.InstanceID, nil
}

// Fork starts children of the calling process. With Sync and Suspend
// set the response carries the resume event instead of outputs.
func (c *Client) Fork(ctx context.Context, callerID string, req api.ForkProcessRequest) (*api.TaskResponse, error) {
	var resp api.TaskResponse
	err := c.task(ctx, api.TaskRequest{
		Action:     api.ActionFork,
		InstanceID: callerID,
		Fork:       &req,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Kill cancels the given processes.
func (c *Client) Kill(ctx context.Context, instanceIDs []string, sync bool) error {
	var resp api.TaskResponse
	return c.task(ctx, api.TaskRequest{
		Action: api.ActionKill,
		Kill: &api.KillProcessRequest{
			InstanceIDs: instanceIDs,
			Sync:        sync,
		},
	}, &resp)
}

// Wait blocks until the listed processes are terminal and returns
// their entries keyed by instance ID. A zero timeout waits
// indefinitely.
func (c *Client) Wait(ctx context.Context, instanceIDs []string, timeout time.Duration) (map[string]api.ProcessResponse, error) {
	// Waits outlive the client's default timeout; bound the request by
	// ctx instead.
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout+30*time.Second)
		defer cancel()
	}

	var resp api.WaitResponse
	err := c.doPost(ctx, &http.Client{}, "/internal/wait", api.WaitRequest{
		InstanceIDs: instanceIDs,
		Timeout:     int(timeout / time.Second),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Suspend persists a wait condition for the calling process and
// returns the resume event. The caller is expected to exit afterwards;
// the server resumes it when the awaited processes finish.
func (c *Client) Suspend(ctx context.Context, callerID string, waitFor []string, ignoreFailures bool) (string, error) {
	var resp api.SuspendResponse
	err := c.post(ctx, "/internal/suspend", api.SuspendRequest{
		InstanceID:     callerID,
		WaitFor:        waitFor,
		IgnoreFailures: ignoreFailures,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ResumeEvent, nil
}

func (c *Client) task(ctx context.Context, req api.TaskRequest, out interface{}) error {
	return c.post(ctx, "/internal/task", req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.doPost(ctx, c.HTTPClient, path, body, out)
}

func (c *Client) doPost(ctx context.Context, client *http.Client, path string, body, out interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Secret))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}
