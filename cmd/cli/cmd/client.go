package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"procplane/pkg/api"
)

// ProcessClient handles API calls to the procplane server.
type ProcessClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewProcessClient creates a new client with the given base URL and token.
func NewProcessClient(baseURL, token string) *ProcessClient {
	return &ProcessClient{
		BaseURL: baseURL,
		Token:   token,
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

// StartProcess sends POST /processes to submit a new process.
func (c *ProcessClient) StartProcess(req api.StartProcessRequest) (*api.StartProcessResponse, error) {
	var result api.StartProcessResponse
	if err := c.do(http.MethodPost, "/processes", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetProcess sends GET /processes/{id} to retrieve process details.
func (c *ProcessClient) GetProcess(instanceID string) (*api.ProcessResponse, error) {
	var result api.ProcessResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/processes/%s", instanceID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ResumeProcess sends POST /processes/{id}/resume.
func (c *ProcessClient) ResumeProcess(instanceID string, req api.ResumeProcessRequest) error {
	return c.do(http.MethodPost, fmt.Sprintf("/processes/%s/resume", instanceID), req, nil)
}

// KillProcess sends POST /processes/{id}/kill to cancel a process.
func (c *ProcessClient) KillProcess(instanceID string) error {
	return c.do(http.MethodPost, fmt.Sprintf("/processes/%s/kill", instanceID), nil, nil)
}

// CreateOrg sends POST /orgs to register an organization.
func (c *ProcessClient) CreateOrg(req api.CreateOrgRequest) (*api.CreateOrgResponse, error) {
	var result api.CreateOrgResponse
	if err := c.do(http.MethodPost, "/orgs", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// QueueMetrics sends GET /metrics/queue to retrieve queue counts.
func (c *ProcessClient) QueueMetrics() (*api.MetricsResponse, error) {
	var result api.MetricsResponse
	if err := c.do(http.MethodGet, "/metrics/queue", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *ProcessClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}
