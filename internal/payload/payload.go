// Package payload defines the carrier passed through pipelines. A
// Payload is a value: processors never mutate one in place, they
// derive a new value with the With* methods and return it. The old
// value stays valid, which gives every pipeline step an inspectable
// before/after and makes pipelines safe to replay up to the point of
// external side effects.
package payload

import (
	"github.com/google/uuid"

	"procplane/internal/store"
)

// Key identifies a typed header on a Payload.
type Key string

const (
	// KeyParentInstanceID is the uuid.UUID of the forking parent, if any.
	KeyParentInstanceID Key = "parentInstanceId"
	// KeyOrgID is the uuid.UUID of the submitting organization.
	KeyOrgID Key = "orgId"
	// KeyProjectID is the uuid.UUID of the submitting project.
	KeyProjectID Key = "projectId"
	// KeyRepoID is the uuid.UUID of the source repository.
	KeyRepoID Key = "repoId"
	// KeyRepoURL is the resolved repository URL (string).
	KeyRepoURL Key = "repoUrl"
	// KeyRepoPath is the checked-out repository path (string).
	KeyRepoPath Key = "repoPath"
	// KeyCommitID is the resolved commit (string).
	KeyCommitID Key = "commitId"
	// KeyCommitBranch is the resolved branch (string).
	KeyCommitBranch Key = "commitBranch"
	// KeyInitiator is the submitting principal (string).
	KeyInitiator Key = "initiator"
	// KeyExclusiveGroup is the mutual-exclusion tag (string).
	KeyExclusiveGroup Key = "exclusiveGroup"
	// KeyActiveProfiles is the resolved profile list ([]string).
	KeyActiveProfiles Key = "activeProfiles"
	// KeyOutExpressions is the set of requested out variables ([]string).
	KeyOutExpressions Key = "outExpressions"
	// KeyResumeEvent is the event name a resume request carries (string).
	KeyResumeEvent Key = "resumeEvent"
	// KeyResumeFromSameStep asks the runner to re-enter the step that
	// requested the wait instead of advancing past it (bool).
	KeyResumeFromSameStep Key = "resumeFromSameStep"
	// KeyWorkspace is the staged workspace directory (string).
	KeyWorkspace Key = "workspace"
	// KeyEntryPoint is the flow to execute (string).
	KeyEntryPoint Key = "entryPoint"
	// KeyProcessKind marks how the process entered the queue
	// (store.ProcessKind).
	KeyProcessKind Key = "processKind"
	// KeyTags is the tag list persisted with the queue entry ([]string).
	KeyTags Key = "tags"
	// KeyPolicy is the resolved policy document (*policy.Document).
	KeyPolicy Key = "policy"
)

// Payload carries everything one pipeline invocation needs: the
// process identity, a typed header bag, merged configuration and
// staged file attachments. Payloads are never shared across
// invocations.
type Payload struct {
	key           store.ProcessKey
	headers       map[Key]interface{}
	configuration map[string]interface{}
	attachments   map[string]string
}

// New creates a payload for the given process identity.
func New(key store.ProcessKey) Payload {
	return Payload{
		key:           key,
		headers:       map[Key]interface{}{},
		configuration: map[string]interface{}{},
		attachments:   map[string]string{},
	}
}

// ProcessKey returns the process identity the payload belongs to.
func (p Payload) ProcessKey() store.ProcessKey {
	return p.key
}

// InstanceID is shorthand for the payload's instance ID.
func (p Payload) InstanceID() uuid.UUID {
	return p.key.InstanceID
}

// Header returns the raw header value, if present.
func (p Payload) Header(k Key) (interface{}, bool) {
	v, ok := p.headers[k]
	return v, ok
}

// StringHeader returns a string-typed header, or "" if absent.
func (p Payload) StringHeader(k Key) string {
	if v, ok := p.headers[k].(string); ok {
		return v
	}
	return ""
}

// UUIDHeader returns a uuid-typed header, or nil if absent.
func (p Payload) UUIDHeader(k Key) *uuid.UUID {
	if v, ok := p.headers[k].(uuid.UUID); ok {
		return &v
	}
	return nil
}

// BoolHeader returns a bool-typed header, or false if absent.
func (p Payload) BoolHeader(k Key) bool {
	if v, ok := p.headers[k].(bool); ok {
		return v
	}
	return false
}

// StringsHeader returns a []string header, or nil if absent.
func (p Payload) StringsHeader(k Key) []string {
	if v, ok := p.headers[k].([]string); ok {
		return v
	}
	return nil
}

// WithHeader derives a payload with one header replaced.
func (p Payload) WithHeader(k Key, v interface{}) Payload {
	headers := make(map[Key]interface{}, len(p.headers)+1)
	for key, val := range p.headers {
		headers[key] = val
	}
	headers[k] = v

	cp := p
	cp.headers = headers
	return cp
}

// WithoutHeader derives a payload with one header removed.
func (p Payload) WithoutHeader(k Key) Payload {
	headers := make(map[Key]interface{}, len(p.headers))
	for key, val := range p.headers {
		if key != k {
			headers[key] = val
		}
	}

	cp := p
	cp.headers = headers
	return cp
}

// Configuration returns the merged process arguments. The returned map
// must not be modified; derive with WithConfiguration instead.
func (p Payload) Configuration() map[string]interface{} {
	return p.configuration
}

// WithConfiguration derives a payload with the configuration replaced.
func (p Payload) WithConfiguration(cfg map[string]interface{}) Payload {
	cp := p
	cp.configuration = cfg
	return cp
}

// Attachments returns the staged files by name. The returned map must
// not be modified; derive with WithAttachment instead.
func (p Payload) Attachments() map[string]string {
	return p.attachments
}

// Attachment returns the staged path of a named attachment.
func (p Payload) Attachment(name string) (string, bool) {
	path, ok := p.attachments[name]
	return path, ok
}

// WithAttachment derives a payload with one attachment added or replaced.
func (p Payload) WithAttachment(name, path string) Payload {
	attachments := make(map[string]string, len(p.attachments)+1)
	for k, v := range p.attachments {
		attachments[k] = v
	}
	attachments[name] = path

	cp := p
	cp.attachments = attachments
	return cp
}

// MergeConfiguration layers overrides on top of the current
// configuration and derives a new payload. Nested maps are merged
// recursively; scalars and lists in the overriding layer win.
func (p Payload) MergeConfiguration(overrides map[string]interface{}) Payload {
	return p.WithConfiguration(deepMerge(p.configuration, overrides))
}

func deepMerge(base, overrides map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		over, overOK := v.(map[string]interface{})
		under, underOK := out[k].(map[string]interface{})
		if overOK && underOK {
			out[k] = deepMerge(under, over)
			continue
		}
		out[k] = v
	}
	return out
}
