package syncer

import (
	"time"

	"github.com/aretw0/introspection"
)

// SyncerState exposes internal state for observability.
type SyncerState struct {
	MinInterval time.Duration     `json:"min_interval"`
	Runs        int               `json:"runs"`
	Failures    int               `json:"failures"`
	Messenger   bool              `json:"messenger"`
	LastSynced  map[string]Result `json:"last_synced"`
}

// State implements introspection.Introspectable.
func (s *Syncer) State() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := make(map[string]Result, len(s.last))
	for k, v := range s.last {
		last[k] = v
	}
	return SyncerState{
		MinInterval: s.minInterval,
		Runs:        s.runs,
		Failures:    s.errored,
		Messenger:   s.messenger != nil,
		LastSynced:  last,
	}
}

// ComponentType implements introspection.Component.
func (s *Syncer) ComponentType() string {
	return "syncer"
}

var _ introspection.Introspectable = (*Syncer)(nil)
var _ introspection.Component = (*Syncer)(nil)
