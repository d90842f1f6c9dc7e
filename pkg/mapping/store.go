package mapping

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/reindex/pkg/core"
)

// Store is an in-memory record store keyed by type and identifier.
// It is safe for concurrent use.
type Store struct {
	cfg *Config

	mu      sync.RWMutex
	records map[string]map[string]Record

	stats StoreStats
}

// StoreStats counts batched loads.
type StoreStats struct {
	Batches int `json:"batches" yaml:"batches"`
	Loaded  int `json:"loaded" yaml:"loaded"`
}

// NewStore creates an empty store for the types of cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{cfg: cfg, records: make(map[string]map[string]Record)}
	for _, t := range cfg.Types {
		s.records[t.Name] = make(map[string]Record)
	}
	return s
}

func (s *Store) typeConfig(typeName string) (TypeConfig, error) {
	t, ok := s.cfg.Type(typeName)
	if !ok {
		return TypeConfig{}, fmt.Errorf("%w: %q", core.ErrUnknownType, typeName)
	}
	return t, nil
}

// Get returns a copy of a record.
func (s *Store) Get(typeName, id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[typeName][id]
	return r.Clone(), ok
}

// List returns copies of every record of typeName ordered by identifier.
func (s *Store) List(typeName string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.records[typeName]
	keys := make([]string, 0, len(byID))
	for k := range byID {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, byID[k].Clone())
	}
	return out
}

// Len counts the records of typeName.
func (s *Store) Len(typeName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[typeName])
}

// Put stores r, replacing any record with the same identifier, and
// returns the replaced record.
func (s *Store) Put(typeName string, r Record) (id string, before Record, err error) {
	t, err := s.typeConfig(typeName)
	if err != nil {
		return "", nil, err
	}
	v, _ := r.Lookup(t.idField())
	id, err = NormalizeID(v)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", typeName, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	before = s.records[typeName][id]
	s.records[typeName][id] = r.Clone()
	return id, before, nil
}

// Remove deletes a record and returns it.
func (s *Store) Remove(typeName, id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[typeName][id]
	delete(s.records[typeName], id)
	return r, ok
}

// Referencing implements References by scanning the records of typeName.
func (s *Store) Referencing(typeName, field, id string) ([]string, error) {
	t, err := s.typeConfig(typeName)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range s.List(typeName) {
		v, _ := r.Lookup(field)
		for _, ref := range ids(v) {
			if ref == id {
				own, _ := r.Lookup(t.idField())
				if oid, err := NormalizeID(own); err == nil {
					out = append(out, oid)
				}
				break
			}
		}
	}
	return out, nil
}

// Stats returns the batched load counters.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// LoadingPlan returns a loader for one unit of work. Loads planned
// together are served by a single pass over the store.
func (s *Store) LoadingPlan() core.LoadingPlan {
	return &batchLoader{store: s}
}

type loadRequest struct {
	typeName string
	id       string
	invalid  error
	done     bool
	record   Record
}

type batchLoader struct {
	store    *Store
	requests []loadRequest
}

func (l *batchLoader) PlanLoading(typeName string, id any) int {
	req := loadRequest{typeName: typeName}
	req.id, req.invalid = NormalizeID(id)
	l.requests = append(l.requests, req)
	return len(l.requests) - 1
}

func (l *batchLoader) Retrieve(ctx context.Context, typeName string, ordinal int) (any, error) {
	if ordinal < 0 || ordinal >= len(l.requests) {
		return nil, fmt.Errorf("no load planned at %d", ordinal)
	}
	if l.requests[ordinal].typeName != typeName {
		return nil, fmt.Errorf("load %d was planned for %s, not %s", ordinal, l.requests[ordinal].typeName, typeName)
	}
	if !l.requests[ordinal].done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l.loadPending()
	}
	req := l.requests[ordinal]
	if req.invalid != nil {
		return nil, req.invalid
	}
	if req.record == nil {
		return nil, nil
	}
	return req.record, nil
}

func (l *batchLoader) loadPending() {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Batches++
	for i := range l.requests {
		req := &l.requests[i]
		if req.done {
			continue
		}
		req.done = true
		if req.invalid != nil {
			continue
		}
		if r, ok := s.records[req.typeName][req.id]; ok {
			req.record = r.Clone()
			s.stats.Loaded++
		}
	}
}

// Decode replaces the content of the store with YAML of the form
// {type: [record, ...]}.
func (s *Store) Decode(r io.Reader) error {
	var data map[string][]Record
	if err := yaml.NewDecoder(r).Decode(&data); err != nil && err != io.EOF {
		return fmt.Errorf("invalid records: %w", err)
	}
	fresh := NewStore(s.cfg)
	for typeName, list := range data {
		for _, rec := range list {
			if _, _, err := fresh.Put(typeName, rec); err != nil {
				return err
			}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = fresh.records
	return nil
}

// Encode writes the store as YAML, types and records in a stable order.
func (s *Store) Encode(w io.Writer) error {
	out := make(map[string][]Record, len(s.cfg.Types))
	for _, t := range s.cfg.Types {
		if list := s.List(t.Name); len(list) > 0 {
			out[t.Name] = list
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}
