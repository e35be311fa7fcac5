package ledger

import (
	"github.com/aretw0/introspection"
)

// ServiceState exposes internal state for observability.
type ServiceState struct {
	StoreType  string `json:"store_type"`
	LockedKeys int    `json:"locked_keys"`
}

// State implements introspection.Introspectable.
func (s *Service) State() any {
	s.mu.Lock()
	locks := len(s.locks)
	s.mu.Unlock()

	storeType := "store"
	if comp, ok := s.store.(introspection.Component); ok {
		storeType = comp.ComponentType()
	}
	return ServiceState{StoreType: storeType, LockedKeys: locks}
}

// ComponentType implements introspection.Component.
func (s *Service) ComponentType() string {
	return "ledger"
}

var _ introspection.Introspectable = (*Service)(nil)
var _ introspection.Component = (*Service)(nil)
