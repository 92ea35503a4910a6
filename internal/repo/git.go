// Package repo fetches process repositories. Checkouts are cached per
// repository under a local cache directory and refreshed on every
// fetch.
package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"procplane/internal/payload"
)

// GitResolver fetches repositories with the git CLI.
type GitResolver struct {
	// CacheDir is the root of per-repository checkouts.
	CacheDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGitResolver creates a resolver caching checkouts under cacheDir.
func NewGitResolver(cacheDir string) *GitResolver {
	return &GitResolver{
		CacheDir: cacheDir,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Fetch clones or updates the payload's repository and checks out the
// requested commit or branch. It returns the checkout path.
func (r *GitResolver) Fetch(ctx context.Context, p payload.Payload) (string, error) {
	url := p.StringHeader(payload.KeyRepoURL)
	if url == "" {
		return "", fmt.Errorf("payload has no repository URL")
	}

	dir := filepath.Join(r.CacheDir, checkoutName(url))

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if err := os.MkdirAll(r.CacheDir, 0o755); err != nil {
			return "", err
		}
		if err := r.git(ctx, r.CacheDir, "clone", url, dir); err != nil {
			return "", fmt.Errorf("failed to clone %s: %w", url, err)
		}
	} else {
		if err := r.git(ctx, dir, "fetch", "origin"); err != nil {
			return "", fmt.Errorf("failed to fetch %s: %w", url, err)
		}
	}

	// A commit ID pins the exact version; a branch takes its remote
	// tip; neither leaves the default branch as cloned.
	if commitID := p.StringHeader(payload.KeyCommitID); commitID != "" {
		if err := r.git(ctx, dir, "checkout", commitID); err != nil {
			return "", fmt.Errorf("failed to checkout %s: %w", commitID, err)
		}
	} else if branch := p.StringHeader(payload.KeyCommitBranch); branch != "" {
		if err := r.git(ctx, dir, "checkout", branch); err != nil {
			return "", fmt.Errorf("failed to checkout %s: %w", branch, err)
		}
		if err := r.git(ctx, dir, "reset", "--hard", "origin/"+branch); err != nil {
			return "", fmt.Errorf("failed to reset %s: %w", branch, err)
		}
	}

	if sub := p.StringHeader(payload.KeyRepoPath); sub != "" {
		return filepath.Join(dir, sub), nil
	}
	return dir, nil
}

// WithLock serializes work on one repository key.
func (r *GitResolver) WithLock(ctx context.Context, key string, fn func() error) error {
	r.mu.Lock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

func (r *GitResolver) git(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git %v: %w: %s", args, err, out)
	}
	return nil
}

// checkoutName derives a stable directory name from a repository URL.
func checkoutName(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}
