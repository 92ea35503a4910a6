package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"procplane/pkg/api"
)

func TestSubmitCommand_Success(t *testing.T) {
	resetViper()

	var received api.StartProcessRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/processes" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected Bearer token, got: %s", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(api.StartProcessResponse{InstanceID: "inst-123"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"submit",
		"--repo-url", "https://example.com/flows.git",
		"--entry-point", "main.sh",
		"--arg", "env=prod",
		"--profile", "nightly",
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "inst-123") {
		t.Errorf("expected instance ID in output, got: %s", output)
	}

	if received.RepoURL != "https://example.com/flows.git" {
		t.Errorf("unexpected repo url: %s", received.RepoURL)
	}
	if received.EntryPoint != "main.sh" {
		t.Errorf("unexpected entry point: %s", received.EntryPoint)
	}
	arguments, ok := received.Configuration["arguments"].(map[string]interface{})
	if !ok || arguments["env"] != "prod" {
		t.Errorf("expected arguments env=prod, got: %v", received.Configuration)
	}
}

func TestSubmitCommand_MissingRepoURL(t *testing.T) {
	resetViper()

	viper.Set("url", "http://localhost:0")
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"submit"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "--repo-url is required") {
		t.Errorf("expected repo-url error, got: %s", stdout.String())
	}
}

func TestSubmitCommand_MissingToken(t *testing.T) {
	resetViper()

	viper.Set("url", "http://localhost:0")
	viper.Set("token", "")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"submit", "--repo-url", "https://example.com/x.git"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "API token not found") {
		t.Errorf("expected token error, got: %s", stdout.String())
	}
}

func TestSubmitCommand_ServerError(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Maximum number of processes exceeded", Code: "429"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"submit", "--repo-url", "https://example.com/x.git"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Submit failed (429)") {
		t.Errorf("expected 429 error in output, got: %s", output)
	}
}
