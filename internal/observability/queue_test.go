package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"procplane/internal/store"
	"procplane/internal/store/inmem"
)

func TestRegisterQueueGauges(t *testing.T) {
	handler, shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	queue := inmem.New()
	entry := &store.ProcessEntry{
		InstanceID: store.NewProcessKey().InstanceID,
		Kind:       store.KindDefault,
		Status:     store.StatusNew,
		CreatedAt:  time.Now().UTC(),
	}
	if err := queue.InsertInitial(context.Background(), nil, entry); err != nil {
		t.Fatalf("InsertInitial failed: %v", err)
	}

	if err := RegisterQueueGauges(queue); err != nil {
		t.Fatalf("RegisterQueueGauges failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "procplane_queue_processes") {
		t.Errorf("expected queue gauge in output, got:\n%s", body)
	}
	if !strings.Contains(body, `status="NEW"`) {
		t.Errorf("expected NEW status label in output, got:\n%s", body)
	}
}
