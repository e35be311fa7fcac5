package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/tally/pkg/core"
)

// Watch emits events for keys matching pattern. Pattern is a doublestar glob
// over keys, ':' acting as the separator ("debtors:*", "**").
// Changes that happened while nobody was watching are emitted first.
func (s *Store) Watch(ctx context.Context, pattern string) (<-chan core.Event, error) {
	globPattern := strings.ReplaceAll(pattern, ":", "/")
	if !doublestar.ValidatePattern(globPattern) {
		return nil, fmt.Errorf("invalid watch pattern %q", pattern)
	}

	events := make(chan core.Event, 100)
	w := newWatchWorker(s, globPattern, events)
	if err := w.Start(ctx); err != nil {
		close(events)
		return nil, err
	}
	w.reconcile(ctx)
	return events, nil
}

// Reconcile compares the data directory against the index and returns the
// changes the index did not know about. The index is updated accordingly.
func (s *Store) Reconcile(ctx context.Context) ([]core.Event, error) {
	var events []core.Event
	now := time.Now().Unix()
	seen := make(map[string]bool)

	err := s.walk(func(rel string, info os.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[rel] = true
		key := pathToKey(rel)

		if _, known := s.index.Get(rel); !known {
			events = append(events, core.Event{Type: core.EventCreate, Key: key, Timestamp: now})
		} else if !s.index.Fresh(rel, info) {
			events = append(events, core.Event{Type: core.EventModify, Key: key, Timestamp: now})
		} else {
			return nil
		}
		s.index.Set(rel, &indexEntry{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, key := range s.index.Prune(seen) {
		events = append(events, core.Event{Type: core.EventDelete, Key: key, Timestamp: now})
	}

	if !s.readOnly {
		if err := s.index.Save(); err != nil {
			s.config.Logger.Warn("failed to save index", "error", err)
		}
	}
	s.recordReconcile()
	return events, nil
}

// recursiveAdd registers the data directory and all its subdirectories.
func (s *Store) recursiveAdd(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(s.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.Path && (d.Name() == s.config.SystemDir || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// shouldIgnore filters out temp files, system files and keys outside the pattern.
func (s *Store) shouldIgnore(event fsnotify.Event, pattern string) bool {
	if isTempFile(event.Name) || filepath.Ext(event.Name) != valueExt {
		return true
	}
	rel, err := filepath.Rel(s.Path, event.Name)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, s.config.SystemDir+"/") {
		return true
	}
	return !matchPattern(pattern, rel)
}

func matchPattern(pattern, rel string) bool {
	if pattern == "" || pattern == "**" || pattern == "**/*" {
		return true
	}
	ok, err := doublestar.Match(pattern, strings.TrimSuffix(rel, valueExt))
	return err == nil && ok
}

func (s *Store) mapEventType(event fsnotify.Event) core.EventType {
	switch {
	case event.Has(fsnotify.Create):
		return core.EventCreate
	case event.Has(fsnotify.Write):
		return core.EventModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return core.EventDelete
	default:
		return ""
	}
}

// resolveKey turns an absolute event path into a store key.
func (s *Store) resolveKey(path string) (string, error) {
	rel, err := filepath.Rel(s.Path, path)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path outside data directory: %s", path)
	}
	return pathToKey(rel), nil
}

// syncIndex keeps the index aligned with events observed live, so a later
// Reconcile does not report them twice.
func (s *Store) syncIndex(event core.Event, path string) {
	rel, err := filepath.Rel(s.Path, path)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if event.Type == core.EventDelete {
		s.index.Delete(rel)
		return
	}
	if info, err := os.Stat(path); err == nil {
		s.index.Set(rel, &indexEntry{Key: event.Key, Size: info.Size(), LastModified: info.ModTime()})
	}
}
