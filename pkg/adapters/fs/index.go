package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// indexEntry records what the store last saw for a single value file.
type indexEntry struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// indexState is the persisted form of the index.
type indexState struct {
	Version int                    `json:"version"`
	Entries map[string]*indexEntry `json:"entries"` // Key is the relative path (e.g. "debtors/shop.json")
}

// index tracks file modification times so that changes made while no watcher
// was running can be reconciled into events.
type index struct {
	Path  string // {dataPath}/{systemDir}/index.json
	mu    sync.RWMutex
	state indexState
	dirty bool
}

func newIndex(dataPath, systemDir string) *index {
	return &index{
		Path: filepath.Join(dataPath, systemDir, "index.json"),
		state: indexState{
			Version: 1,
			Entries: make(map[string]*indexEntry),
		},
	}
}

// Load reads the index from disk. A missing or corrupted file yields an empty index.
func (x *index) Load() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	data, err := os.ReadFile(x.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}

	var st indexState
	if err := json.Unmarshal(data, &st); err != nil || st.Entries == nil {
		// Self-heal: the next Save rewrites a valid file.
		x.state.Entries = make(map[string]*indexEntry)
		x.dirty = true
		return nil
	}
	x.state = st
	x.dirty = false
	return nil
}

// Save persists the index if it changed since the last save.
func (x *index) Save() error {
	x.mu.RLock()
	if !x.dirty {
		x.mu.RUnlock()
		return nil
	}
	data, err := json.MarshalIndent(x.state, "", "  ")
	x.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(x.Path), 0755); err != nil {
		return err
	}
	if err := writeFileAtomic(x.Path, data, 0644); err != nil {
		return err
	}

	x.mu.Lock()
	x.dirty = false
	x.mu.Unlock()
	return nil
}

// Get returns the entry for relPath.
func (x *index) Get(relPath string) (*indexEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.state.Entries[relPath]
	return e, ok
}

// Fresh reports whether the entry for relPath matches the given file info.
func (x *index) Fresh(relPath string, info os.FileInfo) bool {
	e, ok := x.Get(relPath)
	return ok && e.Size == info.Size() && e.LastModified.Equal(info.ModTime())
}

func (x *index) Set(relPath string, e *indexEntry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.Entries[relPath] = e
	x.dirty = true
}

func (x *index) Delete(relPath string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.state.Entries[relPath]; ok {
		delete(x.state.Entries, relPath)
		x.dirty = true
	}
}

// Prune removes entries not present in keep and returns their keys.
func (x *index) Prune(keep map[string]bool) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	var removed []string
	for path, e := range x.state.Entries {
		if !keep[path] {
			removed = append(removed, e.Key)
			delete(x.state.Entries, path)
			x.dirty = true
		}
	}
	return removed
}

func (x *index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.state.Entries)
}
