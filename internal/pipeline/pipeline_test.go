package pipeline

import (
	"context"
	"errors"
	"testing"

	"procplane/internal/payload"
	"procplane/internal/store"
)

func appendStep(name string, order *[]string) Processor {
	return ProcessorFunc(func(ctx context.Context, next Chain, p payload.Payload) (payload.Payload, error) {
		*order = append(*order, name)
		return next.Process(ctx, p)
	})
}

func TestChain_RunsInOrder(t *testing.T) {
	var order []string
	c := NewChain(
		appendStep("validate", &order),
		appendStep("enqueue", &order),
		appendStep("dispatch", &order),
	)

	if _, err := c.Process(context.Background(), payload.New(store.NewProcessKey())); err != nil {
		t.Fatalf("chain failed: %v", err)
	}

	want := []string{"validate", "enqueue", "dispatch"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestChain_ShortCircuit(t *testing.T) {
	var order []string
	stop := ProcessorFunc(func(ctx context.Context, next Chain, p payload.Payload) (payload.Payload, error) {
		order = append(order, "stop")
		return p, nil // never calls next
	})

	c := NewChain(appendStep("first", &order), stop, appendStep("unreachable", &order))
	if _, err := c.Process(context.Background(), payload.New(store.NewProcessKey())); err != nil {
		t.Fatalf("chain failed: %v", err)
	}

	if len(order) != 2 || order[1] != "stop" {
		t.Errorf("got %v, want [first stop]", order)
	}
}

func TestChain_HeadersFlowForward(t *testing.T) {
	setter := ProcessorFunc(func(ctx context.Context, next Chain, p payload.Payload) (payload.Payload, error) {
		return next.Process(ctx, p.WithHeader(payload.KeyInitiator, "alice"))
	})
	var seen string
	reader := ProcessorFunc(func(ctx context.Context, next Chain, p payload.Payload) (payload.Payload, error) {
		seen = p.StringHeader(payload.KeyInitiator)
		return next.Process(ctx, p)
	})

	c := NewChain(setter, reader)
	if _, err := c.Process(context.Background(), payload.New(store.NewProcessKey())); err != nil {
		t.Fatalf("chain failed: %v", err)
	}
	if seen != "alice" {
		t.Errorf("downstream saw %q, want alice", seen)
	}
}

func TestPipeline_FaultRoutesThroughExceptionProcessor(t *testing.T) {
	fault := errors.New("repository unavailable")
	var handled error
	pl := New("start",
		ExceptionFunc(func(ctx context.Context, p payload.Payload, err error) {
			handled = err
		}),
		ProcessorFunc(func(ctx context.Context, next Chain, p payload.Payload) (payload.Payload, error) {
			return p, fault
		}),
	)

	_, err := pl.Process(context.Background(), payload.New(store.NewProcessKey()))
	if !errors.Is(err, fault) {
		t.Errorf("fault not rethrown: %v", err)
	}
	if !errors.Is(handled, fault) {
		t.Errorf("exception processor saw %v, want the fault", handled)
	}
}

func TestPipeline_SuspendBypassesExceptionProcessor(t *testing.T) {
	handled := false
	pl := New("resume",
		ExceptionFunc(func(ctx context.Context, p payload.Payload, err error) {
			handled = true
		}),
		ProcessorFunc(func(ctx context.Context, next Chain, p payload.Payload) (payload.Payload, error) {
			return p, &SuspendSignal{ResumeEvent: "forkCompleted"}
		}),
	)

	_, err := pl.Process(context.Background(), payload.New(store.NewProcessKey()))
	s, ok := IsSuspend(err)
	if !ok {
		t.Fatalf("got %v, want SuspendSignal", err)
	}
	if s.ResumeEvent != "forkCompleted" {
		t.Errorf("got resume event %q", s.ResumeEvent)
	}
	if handled {
		t.Error("suspension must not be treated as a fault")
	}
}

func TestValidationf(t *testing.T) {
	err := Validationf("organization %s unknown", "acme")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %T, want *ValidationError", err)
	}
	if ve.Error() != "validation failed: organization acme unknown" {
		t.Errorf("got %q", ve.Error())
	}
}
