package main

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hubdrive/drivercore/driver"
)

// memNodeStore is a process-lifetime driver.NodeStore, standing in for
// whatever durable index an orchestrator would otherwise supply to the
// attachment driver. It exists only so this CLI can exercise that
// driver standalone; it is not meant to survive past one invocation.
type memNodeStore struct {
	mu    sync.Mutex
	nodes map[string]driver.Node
}

func newMemNodeStore() *memNodeStore {
	return &memNodeStore{nodes: map[string]driver.Node{}}
}

func (s *memNodeStore) GetByPath(ctx context.Context, owner, scope, path string) (driver.Node, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := driver.NormalizePath(path, false)
	if err != nil {
		return driver.Node{}, false, err
	}
	for _, n := range s.nodes {
		if n.Owner == owner && n.Scope == scope && s.fullPath(n) == path {
			return n, true, nil
		}
	}
	return driver.Node{}, false, nil
}

func (s *memNodeStore) fullPath(n driver.Node) string {
	if n.ParentID == "" {
		return driver.Join("/", n.Name)
	}
	parent, ok := s.nodes[n.ParentID]
	if !ok {
		return driver.Join("/", n.Name)
	}
	return driver.Join(s.fullPath(parent), n.Name)
}

func (s *memNodeStore) ListChildren(ctx context.Context, owner, scope, parentID string) ([]driver.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []driver.Node
	for _, n := range s.nodes {
		if n.Owner == owner && n.Scope == scope && n.ParentID == parentID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memNodeStore) Create(ctx context.Context, n driver.Node) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = uuid.NewString()
	s.nodes[n.ID] = n
	return n.ID, nil
}

func (s *memNodeStore) Update(ctx context.Context, n driver.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n.ID]; !ok {
		return driver.NewError(driver.CodeNotFound, "no such node")
	}
	s.nodes[n.ID] = n
	return nil
}

func (s *memNodeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
	return nil
}

func (s *memNodeStore) EnsureDir(ctx context.Context, owner, scope, path string) (driver.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := driver.NormalizePath(path, true)
	if err != nil {
		return driver.Node{}, err
	}
	var parentID string
	var current driver.Node
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		found := false
		for _, n := range s.nodes {
			if n.Owner == owner && n.Scope == scope && n.ParentID == parentID && n.Name == seg && n.NodeType == driver.NodeDir {
				current, found = n, true
				break
			}
		}
		if !found {
			current = driver.Node{ParentID: parentID, Owner: owner, Scope: scope, Name: seg, NodeType: driver.NodeDir}
			current.ID = uuid.NewString()
			s.nodes[current.ID] = current
		}
		parentID = current.ID
	}
	return current, nil
}

var _ driver.NodeStore = (*memNodeStore)(nil)

// memSessionStore is the matching in-memory driver.SessionStore.
type memSessionStore struct {
	mu   sync.Mutex
	recs map[string]driver.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{recs: map[string]driver.Session{}}
}

func (s *memSessionStore) Create(ctx context.Context, rec driver.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = uuid.NewString()
	s.recs[rec.ID] = rec
	return rec.ID, nil
}

func (s *memSessionStore) Get(ctx context.Context, id string) (driver.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return driver.Session{}, driver.NewError(driver.CodeNotFound, "no such session")
	}
	return rec, nil
}

func (s *memSessionStore) Update(ctx context.Context, id string, partial func(driver.Session) driver.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return driver.NewError(driver.CodeNotFound, "no such session")
	}
	s.recs[id] = partial(rec)
	return nil
}

func (s *memSessionStore) ListActive(ctx context.Context, filter map[string]string) ([]driver.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []driver.Session
	for _, r := range s.recs {
		if r.Status == driver.StatusCompleted || r.Status == driver.StatusAborted {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

var _ driver.SessionStore = (*memSessionStore)(nil)
