// Package fs implements core.Store on top of the local filesystem.
//
// Every key is a JSON file below the data directory. Key segments separated
// by ':' become directories, so "debtors:shop-1" lives at debtors/shop-1.json.
package fs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/tally/pkg/core"
)

const valueExt = ".json"

// Config holds the configuration for the filesystem store.
type Config struct {
	Path      string
	MustExist bool
	ReadOnly  bool
	Logger    *slog.Logger
	SystemDir string // e.g. ".tally"
	// ErrorHandler receives runtime watcher failures which are otherwise only logged.
	ErrorHandler func(error)
}

// Store implements core.Store using one file per key.
type Store struct {
	Path   string
	config Config
	index  *index

	mu            sync.RWMutex
	writeMu       sync.Mutex
	readOnly      bool
	watcherActive bool
	lastReconcile *time.Time
}

// NewStore creates a new filesystem-backed store. No I/O happens until Initialize.
func NewStore(config Config) *Store {
	if config.SystemDir == "" {
		config.SystemDir = ".tally"
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		Path:     config.Path,
		config:   config,
		index:    newIndex(config.Path, config.SystemDir),
		readOnly: config.ReadOnly,
	}
}

// Initialize creates the data directory (unless it must already exist) and loads the index.
func (s *Store) Initialize(ctx context.Context) error {
	if s.config.MustExist || s.readOnly {
		info, err := os.Stat(s.Path)
		if os.IsNotExist(err) {
			return fmt.Errorf("data path does not exist: %s", s.Path)
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("data path is not a directory: %s", s.Path)
		}
	} else if err := os.MkdirAll(s.Path, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := s.index.Load(); err != nil {
		s.config.Logger.Warn("failed to load index, starting fresh", "error", err)
	}
	return nil
}

// Get reads the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	rel, err := keyToPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Path, rel))
	if errors.Is(err, os.ErrNotExist) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Set writes value under key atomically.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if s.readOnly {
		return core.ErrReadOnly
	}
	rel, err := keyToPath(key)
	if err != nil {
		return err
	}
	full := filepath.Join(s.Path, rel)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	if err := writeFileAtomic(full, value, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	if info, err := os.Stat(full); err == nil {
		s.index.Set(filepath.ToSlash(rel), &indexEntry{Key: key, Size: info.Size(), LastModified: info.ModTime()})
	}
	if err := s.index.Save(); err != nil {
		s.config.Logger.Warn("failed to save index", "error", err)
	}

	s.config.Logger.Debug("value written", "key", key, "bytes", len(value))
	return nil
}

// Delete removes key. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.readOnly {
		return core.ErrReadOnly
	}
	rel, err := keyToPath(key)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := os.Remove(filepath.Join(s.Path, rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	s.index.Delete(filepath.ToSlash(rel))
	if err := s.index.Save(); err != nil {
		s.config.Logger.Warn("failed to save index", "error", err)
	}
	return nil
}

// Keys walks the data directory and returns the keys starting with prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.walk(func(rel string, info os.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := pathToKey(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// walk visits every value file, skipping the system directory and temp files.
func (s *Store) walk(fn func(rel string, info os.FileInfo) error) error {
	err := filepath.WalkDir(s.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.Path && (d.Name() == s.config.SystemDir || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(d.Name()) != valueExt || isTempFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(s.Path, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			// Removed between readdir and stat.
			return nil
		}
		return fn(filepath.ToSlash(rel), info)
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// keyToPath maps "a:b:c" to "a/b/c.json", rejecting keys that could escape the data directory.
func keyToPath(key string) (string, error) {
	if key == "" {
		return "", core.ErrEmptyID
	}
	segments := strings.Split(key, ":")
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) || strings.HasPrefix(seg, ".") {
			return "", fmt.Errorf("invalid key %q", key)
		}
	}
	return filepath.Join(segments...) + valueExt, nil
}

// pathToKey is the inverse of keyToPath for slash-separated relative paths.
func pathToKey(rel string) string {
	rel = strings.TrimSuffix(filepath.ToSlash(rel), valueExt)
	return strings.ReplaceAll(rel, "/", ":")
}

var _ core.Store = (*Store)(nil)
var _ core.Watchable = (*Store)(nil)
