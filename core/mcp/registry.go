package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Executor is the capability boundary consumed by the agent loop.
type Executor interface {
	Call(ctx context.Context, serverID, tool string, arguments json.RawMessage) (*Result, error)
	ListTools(ctx context.Context, serverID string) ([]ToolDescription, error)
}

// Registry routes invocations to named server connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

var _ Executor = (*Registry)(nil)

func NewRegistry(conns ...*Conn) *Registry {
	registry := &Registry{conns: map[string]*Conn{}}
	for _, conn := range conns {
		registry.conns[conn.ServerID()] = conn
	}
	return registry
}

func (r *Registry) Register(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ServerID()] = conn
}

func (r *Registry) conn(serverID string) (*Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[serverID]
	if !ok {
		return nil, fmt.Errorf("unknown tool server %q", serverID)
	}
	return conn, nil
}

func (r *Registry) Call(ctx context.Context, serverID, tool string, arguments json.RawMessage) (*Result, error) {
	conn, err := r.conn(serverID)
	if err != nil {
		return nil, err
	}
	return conn.Call(ctx, tool, arguments)
}

func (r *Registry) ListTools(ctx context.Context, serverID string) ([]ToolDescription, error) {
	conn, err := r.conn(serverID)
	if err != nil {
		return nil, err
	}
	return conn.ListTools(ctx)
}

// ServerIDs lists registered servers in no particular order.
func (r *Registry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}
