package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"procplane/internal/store"
)

func TestRateLimit_NoOrgInContext(t *testing.T) {
	middleware := RateLimit()

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called when no org in context")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	middleware := RateLimit()

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	org := &store.Organization{
		ID:             uuid.New(),
		Name:           "acme",
		RateLimit:      100,
		RateLimitBurst: 200,
	}
	ctx := NewContextWithOrg(context.Background(), org)

	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRateLimit_BlocksOverLimit(t *testing.T) {
	middleware := RateLimit()

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	org := &store.Organization{
		ID:             uuid.New(),
		Name:           "acme",
		RateLimit:      1,
		RateLimitBurst: 2,
	}
	ctx := NewContextWithOrg(context.Background(), org)

	var last *httptest.ResponseRecorder
	blocked := false
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
		if last.Code == http.StatusTooManyRequests {
			blocked = true
			break
		}
	}

	if !blocked {
		t.Fatal("burst exhausted but requests were never throttled")
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("throttled response missing Retry-After")
	}
}

func TestRateLimit_ZeroMeansUnlimited(t *testing.T) {
	middleware := RateLimit()

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	org := &store.Organization{ID: uuid.New(), Name: "acme", RateLimit: 0}
	ctx := NewContextWithOrg(context.Background(), org)

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d throttled with RateLimit=0", i)
		}
	}
}

func TestRateLimit_PerOrgIsolation(t *testing.T) {
	middleware := RateLimit()

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	throttled := &store.Organization{ID: uuid.New(), Name: "small", RateLimit: 1, RateLimitBurst: 1}
	other := &store.Organization{ID: uuid.New(), Name: "big", RateLimit: 1, RateLimitBurst: 1}

	// Exhaust the first org's burst.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil).
			WithContext(NewContextWithOrg(context.Background(), throttled))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil).
		WithContext(NewContextWithOrg(context.Background(), other))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("a different org was throttled: %d", rr.Code)
	}
}
