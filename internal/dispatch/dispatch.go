// Package dispatch carries fully resolved execution units from the
// pipelines to the runner agents. The orchestration core's job ends
// here: a dispatched unit is picked up by an agent over the internal
// API, and completion comes back later as a status callback.
package dispatch

import (
	"context"

	"github.com/google/uuid"

	"procplane/internal/payload"
)

// Unit is one dispatched process, ready to execute.
type Unit struct {
	InstanceID         uuid.UUID              `json:"instanceId"`
	Workspace          string                 `json:"workspace,omitempty"`
	EntryPoint         string                 `json:"entryPoint,omitempty"`
	Configuration      map[string]interface{} `json:"configuration,omitempty"`
	ActiveProfiles     []string               `json:"activeProfiles,omitempty"`
	OutExpressions     []string               `json:"outExpressions,omitempty"`
	ResumeEvent        string                 `json:"resumeEvent,omitempty"`
	ResumeFromSameStep bool                   `json:"resumeFromSameStep,omitempty"`
}

// Buffer queues dispatched units for pickup by agents. The buffer is
// bounded; when it is full, Dispatch blocks, pushing back on the
// pipelines instead of growing without limit.
type Buffer struct {
	units chan Unit
}

// NewBuffer creates a buffer holding up to size units.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 64
	}
	return &Buffer{units: make(chan Unit, size)}
}

// Dispatch converts the payload into a Unit and queues it.
func (b *Buffer) Dispatch(ctx context.Context, p payload.Payload) error {
	u := Unit{
		InstanceID:         p.InstanceID(),
		Workspace:          p.StringHeader(payload.KeyWorkspace),
		EntryPoint:         p.StringHeader(payload.KeyEntryPoint),
		Configuration:      p.Configuration(),
		ActiveProfiles:     p.StringsHeader(payload.KeyActiveProfiles),
		OutExpressions:     p.StringsHeader(payload.KeyOutExpressions),
		ResumeEvent:        p.StringHeader(payload.KeyResumeEvent),
		ResumeFromSameStep: p.BoolHeader(payload.KeyResumeFromSameStep),
	}

	select {
	case b.units <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lease hands out the next unit, blocking until one is available or
// ctx is done. A nil unit with nil error means ctx expired, which
// agents treat as an empty poll.
func (b *Buffer) Lease(ctx context.Context) (*Unit, error) {
	select {
	case u := <-b.units:
		return &u, nil
	case <-ctx.Done():
		return nil, nil
	}
}
