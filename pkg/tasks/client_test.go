package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"procplane/pkg/api"
)

func TestStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/task" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		var req api.TaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Action != api.ActionStart {
			t.Errorf("expected START action, got %s", req.Action)
		}
		if req.Start == nil || req.Start.EntryPoint != "main.sh" {
			t.Errorf("unexpected start payload: %+v", req.Start)
		}

		json.NewEncoder(w).Encode(api.TaskResponse{InstanceID: "abc-123"})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	id, err := c.Start(context.Background(), "", api.StartProcessRequest{EntryPoint: "main.sh"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if id != "abc-123" {
		t.Errorf("expected instance id abc-123, got %s", id)
	}
}

func TestFork_Suspending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.TaskRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Action != api.ActionFork {
			t.Errorf("expected FORK action, got %s", req.Action)
		}
		if req.InstanceID != "parent-1" {
			t.Errorf("expected caller parent-1, got %s", req.InstanceID)
		}
		json.NewEncoder(w).Encode(api.TaskResponse{
			InstanceIDs: []string{"c1", "c2"},
			ResumeEvent: "ev-42",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	resp, err := c.Fork(context.Background(), "parent-1", api.ForkProcessRequest{
		Groups:  []api.ForkGroup{{Name: "build", Instances: 2}},
		Sync:    true,
		Suspend: true,
	})
	if err != nil {
		t.Fatalf("Fork failed: %v", err)
	}
	if len(resp.InstanceIDs) != 2 {
		t.Errorf("expected 2 children, got %v", resp.InstanceIDs)
	}
	if resp.ResumeEvent != "ev-42" {
		t.Errorf("expected resume event ev-42, got %s", resp.ResumeEvent)
	}
}

func TestSuspend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/suspend" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req api.SuspendRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.InstanceID != "p-1" || len(req.WaitFor) != 1 {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(api.SuspendResponse{ResumeEvent: "ev-7"})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	event, err := c.Suspend(context.Background(), "p-1", []string{"child-1"}, false)
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if event != "ev-7" {
		t.Errorf("expected resume event ev-7, got %s", event)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	err := c.Kill(context.Background(), []string{"x"}, false)
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", apiErr.StatusCode)
	}
}
