package processors

import (
	"context"

	"procplane/internal/payload"
	"procplane/internal/pipeline"
	"procplane/internal/store"
)

// InitialQueueEntry creates the NEW queue row before any expensive
// work, so crash recovery and auditing always have a row to inspect.
// The row is promoted to ENQUEUED only by the Enqueue processor, after
// the payload is fully resolved and staged.
type InitialQueueEntry struct {
	Queue store.ProcessQueue
	Kind  store.ProcessKind
}

func (pr InitialQueueEntry) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	var group *string
	if g := p.StringHeader(payload.KeyExclusiveGroup); g != "" {
		group = &g
	}

	var repoURL, repoPath, commitID, commitBranch *string
	if v := p.StringHeader(payload.KeyRepoURL); v != "" {
		repoURL = &v
	}
	if v := p.StringHeader(payload.KeyRepoPath); v != "" {
		repoPath = &v
	}
	if v := p.StringHeader(payload.KeyCommitID); v != "" {
		commitID = &v
	}
	if v := p.StringHeader(payload.KeyCommitBranch); v != "" {
		commitBranch = &v
	}

	entry := &store.ProcessEntry{
		InstanceID:       p.InstanceID(),
		Kind:             pr.Kind,
		ParentInstanceID: p.UUIDHeader(payload.KeyParentInstanceID),
		OrgID:            p.UUIDHeader(payload.KeyOrgID),
		ProjectID:        p.UUIDHeader(payload.KeyProjectID),
		RepoID:           p.UUIDHeader(payload.KeyRepoID),
		RepoURL:          repoURL,
		RepoPath:         repoPath,
		CommitID:         commitID,
		CommitBranch:     commitBranch,
		Initiator:        p.StringHeader(payload.KeyInitiator),
		ExclusiveGroup:   group,
		Tags:             p.StringsHeader(payload.KeyTags),
		CreatedAt:        p.ProcessKey().CreatedAt,
	}

	if err := pr.Queue.InsertInitial(ctx, nil, entry); err != nil {
		return p, err
	}

	return next.Process(ctx, p.WithHeader(payload.KeyProcessKind, pr.Kind))
}
