// Package git is a thin wrapper over the git binary used by the git-backed
// remote. Concurrent processes sharing a working directory coordinate through
// a lock file.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// LockFile is the name of the lock file inside the working directory.
const LockFile = ".tally.lock"

// ErrLockTimeout is returned when the lock could not be acquired in time.
var ErrLockTimeout = errors.New("timed out waiting for git lock")

// Client wraps git command execution with a file-based lock for process safety.
type Client struct {
	WorkDir     string
	Logger      *slog.Logger
	LockTimeout time.Duration
	lockPath    string
}

// NewClient creates a new git client for the given working directory.
func NewClient(workDir string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		WorkDir:     workDir,
		Logger:      logger,
		LockTimeout: 30 * time.Second,
		lockPath:    LockFile,
	}
}

// IsInstalled reports whether a git binary is on PATH.
func IsInstalled() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// Lock acquires the file lock, retrying until ctx is done or LockTimeout
// elapses. The returned function releases it.
func (c *Client) Lock(ctx context.Context) (func(), error) {
	full := filepath.Join(c.WorkDir, c.lockPath)
	deadline := time.Now().Add(c.LockTimeout)

	for {
		f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL, 0o666)
		if err == nil {
			f.Close()
			return func() { _ = os.Remove(full) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if c.LockTimeout > 0 && time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, full)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Run executes a raw git command in the working directory.
// It does NOT acquire the lock; callers manage that through Lock.
func (c *Client) Run(ctx context.Context, args ...string) (string, error) {
	c.Logger.Debug("executing git", "args", args, "dir", c.WorkDir)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.WorkDir
	out, err := cmd.CombinedOutput()
	output := string(out)
	if err != nil {
		return output, fmt.Errorf("git %s failed: %w\nOutput: %s", args[0], err, output)
	}
	return strings.TrimSpace(output), nil
}

// Init initializes a repository; re-running it on an existing one is safe.
func (c *Client) Init(ctx context.Context) error {
	if err := os.MkdirAll(c.WorkDir, 0o755); err != nil {
		return err
	}
	_, err := c.Run(ctx, "init")
	return err
}

// IsRepo reports whether WorkDir is inside a git work tree.
func (c *Client) IsRepo(ctx context.Context) bool {
	out, err := c.Run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Add adds files to the stage.
func (c *Client) Add(ctx context.Context, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	_, err := c.Run(ctx, append([]string{"add"}, files...)...)
	return err
}

// Commit records staged changes. It is a no-op when nothing is staged.
func (c *Client) Commit(ctx context.Context, msg string) (bool, error) {
	if _, err := c.Run(ctx, "diff", "--cached", "--quiet"); err == nil {
		return false, nil
	}
	_, err := c.Run(ctx, "commit", "-m", msg)
	return err == nil, err
}

// Status returns the porcelain status of the repo.
func (c *Client) Status(ctx context.Context) (string, error) {
	return c.Run(ctx, "status", "--porcelain")
}

// HasRemote reports whether the repository has an "origin" remote.
func (c *Client) HasRemote(ctx context.Context) bool {
	out, err := c.Run(ctx, "remote")
	if err != nil {
		return false
	}
	for _, r := range strings.Fields(out) {
		if r == "origin" {
			return true
		}
	}
	return false
}

// Pull rebases local commits on top of origin. A missing upstream branch is
// not an error.
func (c *Client) Pull(ctx context.Context) error {
	_, err := c.Run(ctx, "pull", "--rebase", "origin", "HEAD")
	if err != nil && strings.Contains(err.Error(), "couldn't find remote ref") {
		return nil
	}
	return err
}

// Push sends HEAD to origin.
func (c *Client) Push(ctx context.Context) error {
	_, err := c.Run(ctx, "push", "origin", "HEAD")
	return err
}
