// Package policy models the externally supplied, per-org/project rule
// documents enforced by dedicated pipeline processors: fork depth,
// queue admission and raw payload size. Policies fail open when absent
// and fail closed when a configured limit is exceeded.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"procplane/internal/store"
)

// Source resolves the policy document applying to a submission. A nil
// document means no policy is attached and every check passes.
type Source interface {
	Get(ctx context.Context, orgID, projectID *uuid.UUID) (*Document, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, orgID, projectID *uuid.UUID) (*Document, error)

func (f SourceFunc) Get(ctx context.Context, orgID, projectID *uuid.UUID) (*Document, error) {
	return f(ctx, orgID, projectID)
}

// NoSource is a Source that never attaches a policy.
var NoSource = SourceFunc(func(context.Context, *uuid.UUID, *uuid.UUID) (*Document, error) {
	return nil, nil
})

// Document is one resolved policy. Absent rules are skipped.
type Document struct {
	ForkDepth      *ForkDepthRule    `json:"forkDepth,omitempty"`
	QueueProcess   *QueueProcessRule `json:"queueProcess,omitempty"`
	RawPayloadSize *SizeRule         `json:"rawPayloadSize,omitempty"`
}

// CheckResult is the outcome of evaluating one rule.
type CheckResult struct {
	Deny []RuleMatch
	Warn []RuleMatch
}

// OK reports whether no deny rule matched.
func (r CheckResult) OK() bool {
	return len(r.Deny) == 0
}

// RuleMatch names one matched rule and its rendered message.
type RuleMatch struct {
	Rule    string
	Message string
}

// ViolationError is the distinguished "policy violation / too many
// requests" fault. The process carrying it is marked FAILED or
// CANCELLED by the pipeline, never silently dropped.
type ViolationError struct {
	Matches []RuleMatch
}

func (e *ViolationError) Error() string {
	msgs := make([]string, len(e.Matches))
	for i, m := range e.Matches {
		msgs[i] = m.Message
	}
	return "policy violation: " + strings.Join(msgs, "; ")
}

// ForkDepthRule bounds recursive fork depth.
type ForkDepthRule struct {
	Max int    `json:"max"`
	Msg string `json:"msg,omitempty"`
}

const defaultForkDepthMsg = "Maximum number of forks exceeded: current {0}, limit {1}"

// Check evaluates the rule against the current ancestor depth. The
// depth supplier runs only when a limit is configured, because the
// recursive ancestor query is not free.
func (r *ForkDepthRule) Check(depth func() (int, error)) (CheckResult, error) {
	if r == nil {
		return CheckResult{}, nil
	}

	current, err := depth()
	if err != nil {
		return CheckResult{}, err
	}

	if current <= r.Max {
		return CheckResult{}, nil
	}

	msg := r.Msg
	if msg == "" {
		msg = defaultForkDepthMsg
	}
	return CheckResult{Deny: []RuleMatch{{
		Rule:    "forkDepth",
		Message: renderMsg(msg, current, r.Max),
	}}}, nil
}

// QueueProcessRule caps concurrently queued and running processes.
// Each limit is optional; Statuses selects which statuses count
// (defaults to the non-terminal set).
type QueueProcessRule struct {
	Statuses      []store.ProcessStatus `json:"statuses,omitempty"`
	Max           *int                  `json:"max,omitempty"`
	MaxPerOrg     *int                  `json:"maxPerOrg,omitempty"`
	MaxPerProject *int                  `json:"maxPerProject,omitempty"`
	Msg           string                `json:"msg,omitempty"`
}

const defaultQueueMsg = "Maximum number of queued processes exceeded: current {0}, limit {1}"

// CountedStatuses returns the statuses the rule counts.
func (r *QueueProcessRule) CountedStatuses() []store.ProcessStatus {
	if r != nil && len(r.Statuses) > 0 {
		return r.Statuses
	}
	return store.ActiveStatuses
}

// Check evaluates the rule against aggregate counts for the three
// scopes: all processes, the submitting org, the submitting project.
func (r *QueueProcessRule) Check(metrics func(scope store.QueueScope) (store.QueueMetrics, error), orgID, projectID *uuid.UUID) (CheckResult, error) {
	if r == nil {
		return CheckResult{}, nil
	}

	statuses := r.CountedStatuses()
	var result CheckResult

	check := func(rule string, limit *int, scope store.QueueScope) error {
		if limit == nil {
			return nil
		}
		m, err := metrics(scope)
		if err != nil {
			return err
		}
		// The submitting process already has its NEW row, so the
		// count includes it: a limit of N admits N processes.
		count := m.Total(statuses...)
		if count > int64(*limit) {
			msg := r.Msg
			if msg == "" {
				msg = defaultQueueMsg
			}
			result.Deny = append(result.Deny, RuleMatch{
				Rule:    rule,
				Message: renderMsg(msg, int(count), *limit),
			})
		}
		return nil
	}

	if err := check("queueProcess.max", r.Max, store.QueueScope{}); err != nil {
		return CheckResult{}, err
	}
	if orgID != nil {
		if err := check("queueProcess.maxPerOrg", r.MaxPerOrg, store.QueueScope{OrgID: orgID}); err != nil {
			return CheckResult{}, err
		}
	}
	if projectID != nil {
		if err := check("queueProcess.maxPerProject", r.MaxPerProject, store.QueueScope{ProjectID: projectID}); err != nil {
			return CheckResult{}, err
		}
	}

	return result, nil
}

// SizeRule caps the raw size of a submitted payload archive.
type SizeRule struct {
	MaxBytes int64  `json:"maxBytes"`
	Msg      string `json:"msg,omitempty"`
}

const defaultSizeMsg = "Maximum payload size exceeded: current {0}, limit {1}"

// Check evaluates the rule against the submitted size in bytes.
func (r *SizeRule) Check(size int64) CheckResult {
	if r == nil || size <= r.MaxBytes {
		return CheckResult{}
	}

	msg := r.Msg
	if msg == "" {
		msg = defaultSizeMsg
	}
	return CheckResult{Deny: []RuleMatch{{
		Rule:    "rawPayloadSize",
		Message: renderMsg(msg, int(size), int(r.MaxBytes)),
	}}}
}

// renderMsg substitutes the {0} (current) and {1} (limit) placeholders
// used by operator-authored rule messages.
func renderMsg(msg string, current, limit int) string {
	msg = strings.ReplaceAll(msg, "{0}", fmt.Sprintf("%d", current))
	msg = strings.ReplaceAll(msg, "{1}", fmt.Sprintf("%d", limit))
	return msg
}
