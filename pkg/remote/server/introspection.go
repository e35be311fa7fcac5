package server

import (
	"github.com/aretw0/introspection"
	"golang.org/x/time/rate"
)

// ServerState exposes internal state for observability.
type ServerState struct {
	Markets  int     `json:"markets"`
	Served   int     `json:"served"`
	Rate     float64 `json:"rate"` // 0 means unlimited
	Burst    int     `json:"burst"`
	AuthMode string  `json:"auth_mode"`
}

// State implements introspection.Introspectable.
func (s *Server) State() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	auth := "none"
	if s.token != "" {
		auth = "bearer"
	}
	perSecond := float64(s.limit)
	if s.limit == rate.Inf {
		perSecond = 0
	}
	return ServerState{
		Markets:  len(s.limiters),
		Served:   s.served,
		Rate:     perSecond,
		Burst:    s.burst,
		AuthMode: auth,
	}
}

// ComponentType implements introspection.Component.
func (s *Server) ComponentType() string {
	return "backup-server"
}

var _ introspection.Introspectable = (*Server)(nil)
var _ introspection.Component = (*Server)(nil)
