// Package gitremote is a Remote that keeps one JSON snapshot per market in a
// git repository. Every backup is a commit; when the repository has an
// origin the snapshots are pulled before reading and pushed after writing.
package gitremote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aretw0/tally/pkg/adapters/fs"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/git"
)

const gitignore = ".tally/\n" + git.LockFile + "\n"

// Remote stores market snapshots as <market>.json files in a git work tree.
type Remote struct {
	git    *git.Client
	files  *fs.Store
	logger *slog.Logger
}

// Option configures the Remote.
type Option func(*Remote)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Remote) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New opens (and initializes when needed) the repository at dir.
func New(ctx context.Context, dir string, opts ...Option) (*Remote, error) {
	if !git.IsInstalled() {
		return nil, errors.New("git binary not found in PATH")
	}
	r := &Remote{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(r)
	}
	r.git = git.NewClient(dir, r.logger)
	r.files = fs.NewStore(fs.Config{Path: dir, Logger: r.logger})

	if err := r.files.Initialize(ctx); err != nil {
		return nil, err
	}
	if !r.git.IsRepo(ctx) {
		if err := r.git.Init(ctx); err != nil {
			return nil, err
		}
		r.logger.Info("initialized backup repository", "dir", dir)
	}
	ignore := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(ignore); os.IsNotExist(err) {
		if err := os.WriteFile(ignore, []byte(gitignore), 0o644); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Backup writes the snapshot of market, commits it and pushes when an origin
// exists.
func (r *Remote) Backup(ctx context.Context, market string, debtors []core.Debtor) error {
	if err := core.ValidateMarket(market); err != nil {
		return err
	}
	if debtors == nil {
		debtors = []core.Debtor{}
	}
	data, err := json.MarshalIndent(debtors, "", "  ")
	if err != nil {
		return err
	}

	unlock, err := r.git.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	upstream := r.git.HasRemote(ctx)
	if upstream {
		if err := r.git.Pull(ctx); err != nil {
			return fmt.Errorf("%w: %v", core.ErrRemote, err)
		}
	}

	if err := r.files.Set(ctx, market, data); err != nil {
		return err
	}
	if err := r.git.Add(ctx, ".gitignore", market+".json"); err != nil {
		return err
	}
	committed, err := r.git.Commit(ctx, fmt.Sprintf("backup %s: %d debtors", market, len(debtors)))
	if err != nil {
		return err
	}
	r.logger.Debug("git backup", "market", market, "committed", committed)

	if upstream && committed {
		if err := r.git.Push(ctx); err != nil {
			return fmt.Errorf("%w: %v", core.ErrRemote, err)
		}
	}
	return nil
}

// Fetch returns the committed snapshot of market, pulling first when an
// origin exists. A missing snapshot reads as empty.
func (r *Remote) Fetch(ctx context.Context, market string) ([]core.Debtor, error) {
	if err := core.ValidateMarket(market); err != nil {
		return nil, err
	}
	unlock, err := r.git.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if r.git.HasRemote(ctx) {
		if err := r.git.Pull(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrRemote, err)
		}
	}

	raw, err := r.files.Get(ctx, market)
	if errors.Is(err, core.ErrNotFound) {
		return []core.Debtor{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out []core.Debtor
	if err := json.Unmarshal(raw, &out); err != nil {
		r.logger.Warn("corrupted snapshot in backup repository", "market", market, "error", err)
		return []core.Debtor{}, nil
	}
	if out == nil {
		out = []core.Debtor{}
	}
	return out, nil
}
