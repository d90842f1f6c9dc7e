package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/reindex/pkg/core"
)

const indexVersion = 1

// indexEntry is one stored document.
type indexEntry struct {
	Type     string        `json:"type"`
	Route    string        `json:"route,omitempty"`
	ID       string        `json:"id"`
	Document core.Document `json:"document"`
	Updated  time.Time     `json:"updated"`
}

func entryKey(typeName, route, id string) string {
	return typeName + "/" + route + "/" + id
}

// indexFile is the persisted form of the index.
type indexFile struct {
	Version int                    `json:"version"`
	Entries map[string]*indexEntry `json:"entries"`
}

// IndexConfig configures a file index.
type IndexConfig struct {
	// Path of the JSON file. Empty keeps the index in memory.
	Path   string
	Logger *slog.Logger
}

// Index is a document index partitioned by type and routing key.
//
// Writes land in the live state. Committing persists the live state to
// Path atomically; refreshing publishes it to readers.
type Index struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	live    map[string]*indexEntry
	visible map[string]*indexEntry
	dirty   bool

	lastCommit  *time.Time
	lastRefresh *time.Time
	commands    int
}

// NewIndex creates an empty index.
func NewIndex(cfg IndexConfig) *Index {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Index{
		path:    cfg.Path,
		logger:  logger,
		live:    make(map[string]*indexEntry),
		visible: make(map[string]*indexEntry),
	}
}

// Load reads the index file. A missing file leaves the index empty.
// Loaded documents are visible right away.
func (x *Index) Load() error {
	if x.path == "" {
		return nil
	}
	data, err := os.ReadFile(x.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}

	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("corrupted index %s: %w", x.path, err)
	}
	if f.Version != indexVersion {
		return fmt.Errorf("index %s has version %d, want %d", x.path, f.Version, indexVersion)
	}
	if f.Entries == nil {
		f.Entries = make(map[string]*indexEntry)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.live = f.Entries
	x.visible = maps.Clone(f.Entries)
	x.dirty = false
	return nil
}

// Commit persists the live state if it changed since the last commit.
func (x *Index) Commit() error {
	x.mu.RLock()
	if !x.dirty || x.path == "" {
		x.mu.RUnlock()
		return nil
	}
	data, err := json.MarshalIndent(indexFile{Version: indexVersion, Entries: x.live}, "", "  ")
	generation := x.commands
	x.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := WriteFileAtomic(x.path, data, 0644); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	now := time.Now()
	x.lastCommit = &now
	if x.commands == generation {
		x.dirty = false
	}
	return nil
}

// Refresh makes every write so far visible to readers.
func (x *Index) Refresh() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.visible = maps.Clone(x.live)
	now := time.Now()
	x.lastRefresh = &now
}

// Get returns a visible document.
func (x *Index) Get(typeName, route, id string) (core.Document, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.visible[entryKey(typeName, route, id)]
	if !ok {
		return nil, false
	}
	return maps.Clone(e.Document), true
}

// Hit is a visible document with its location.
type Hit struct {
	Route    string        `json:"route,omitempty"`
	ID       string        `json:"id"`
	Document core.Document `json:"document"`
}

// Documents lists the visible documents of typeName by route then id.
func (x *Index) Documents(typeName string) []Hit {
	x.mu.RLock()
	var out []Hit
	for _, e := range x.visible {
		if e.Type == typeName {
			out = append(out, Hit{Route: e.Route, ID: e.ID, Document: maps.Clone(e.Document)})
		}
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Route != out[j].Route {
			return out[i].Route < out[j].Route
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Commands opens a command stream for typeName.
func (x *Index) Commands(typeName string) core.IndexCommands {
	return &commandStream{index: x, typeName: typeName}
}

type write struct {
	kind  core.CommandKind
	route string
	id    string
	doc   core.Document
}

func (x *Index) apply(typeName string, writes []write) {
	x.mu.Lock()
	defer x.mu.Unlock()
	now := time.Now()
	for _, w := range writes {
		key := entryKey(typeName, w.route, w.id)
		switch w.kind {
		case core.CommandDelete:
			delete(x.live, key)
		default:
			x.live[key] = &indexEntry{Type: typeName, Route: w.route, ID: w.id, Document: w.doc, Updated: now}
		}
		x.commands++
	}
	if len(writes) > 0 {
		x.dirty = true
	}
}

// commandStream buffers the writes of one type until Flush.
type commandStream struct {
	index    *Index
	typeName string

	mu     sync.Mutex
	writes []write
}

func (s *commandStream) push(w write) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, w)
}

func (s *commandStream) build(kind core.CommandKind, ref core.DocumentRef, c core.DocumentContributor) *core.Future[core.Ack] {
	doc := core.Document{}
	if err := c.Contribute(doc); err != nil {
		return core.Completed(core.Ack{}, err)
	}
	s.push(write{kind: kind, route: ref.Route.RoutingKey, id: ref.DocumentID, doc: doc})
	return core.Completed(core.Ack{}, nil)
}

func (s *commandStream) Add(ref core.DocumentRef, c core.DocumentContributor) *core.Future[core.Ack] {
	return s.build(core.CommandAdd, ref, c)
}

func (s *commandStream) AddOrUpdate(ref core.DocumentRef, c core.DocumentContributor) *core.Future[core.Ack] {
	return s.build(core.CommandAddOrUpdate, ref, c)
}

func (s *commandStream) Delete(ref core.DocumentRef) *core.Future[core.Ack] {
	s.push(write{kind: core.CommandDelete, route: ref.Route.RoutingKey, id: ref.DocumentID})
	return core.Completed(core.Ack{}, nil)
}

func (s *commandStream) Flush(ctx context.Context, commit core.CommitPolicy, refresh core.RefreshPolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	writes := s.writes
	s.writes = nil
	s.mu.Unlock()

	s.index.apply(s.typeName, writes)
	if commit == core.CommitForce {
		if err := s.index.Commit(); err != nil {
			s.index.logger.Error("index commit failed", "type", s.typeName, "error", err)
			return fmt.Errorf("commit %s: %w", s.typeName, err)
		}
	}
	if refresh == core.RefreshForce {
		s.index.Refresh()
	}
	return nil
}

func (s *commandStream) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
}

var _ core.Index = (*Index)(nil)
