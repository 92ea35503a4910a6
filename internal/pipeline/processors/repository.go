package processors

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"procplane/internal/payload"
	"procplane/internal/pipeline"
)

// Transient infrastructure calls are retried a fixed small number of
// times with a fixed delay before surfacing as a fault.
const (
	fetchAttempts   = 3
	fetchRetryDelay = 5 * time.Second
)

// FetchRepository copies the process's source repository into the
// payload. Fetches of the same repository are serialized through the
// resolver's lock so concurrent submissions do not trample a shared
// checkout.
type FetchRepository struct {
	Resolver RepositoryResolver
}

func (pr FetchRepository) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	if p.UUIDHeader(payload.KeyRepoID) == nil && p.StringHeader(payload.KeyRepoURL) == "" {
		return next.Process(ctx, p)
	}

	lockKey := p.StringHeader(payload.KeyRepoURL)
	if id := p.UUIDHeader(payload.KeyRepoID); id != nil {
		lockKey = id.String()
	}

	var path string
	err := pr.Resolver.WithLock(ctx, lockKey, func() error {
		var fetchErr error
		for attempt := 1; ; attempt++ {
			path, fetchErr = pr.Resolver.Fetch(ctx, p)
			if fetchErr == nil || attempt >= fetchAttempts {
				return fetchErr
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchRetryDelay):
			}
		}
	})
	if err != nil {
		return p, fmt.Errorf("failed to fetch repository: %w", err)
	}

	return next.Process(ctx, p.WithHeader(payload.KeyRepoPath, path))
}

// StageWorkspace assembles the per-process workspace directory:
// repository content first, then attachments layered on top. The
// workspace is keyed by ProcessKey and never shared across processes.
type StageWorkspace struct {
	// BaseDir is the root under which per-process workspaces are
	// created.
	BaseDir string
}

func (pr StageWorkspace) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	dir := filepath.Join(pr.BaseDir, p.InstanceID().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return p, fmt.Errorf("failed to create workspace: %w", err)
	}

	if repoPath := p.StringHeader(payload.KeyRepoPath); repoPath != "" {
		if err := copyTree(repoPath, dir); err != nil {
			return p, fmt.Errorf("failed to stage repository content: %w", err)
		}
	}

	for name, src := range p.Attachments() {
		dst := filepath.Join(dir, filepath.Clean(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return p, fmt.Errorf("failed to stage attachment %q: %w", name, err)
		}
		if err := copyFile(src, dst); err != nil {
			return p, fmt.Errorf("failed to stage attachment %q: %w", name, err)
		}
	}

	return next.Process(ctx, p.WithHeader(payload.KeyWorkspace, dir))
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
