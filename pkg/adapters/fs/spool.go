package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/reindex/pkg/core"
)

const (
	batchPrefix = "batch-"
	batchExt    = ".json"
	rejectedDir = "rejected"
)

// Batch is the unit written to the spool: the events of one sending.
type Batch struct {
	ID      string               `json:"id"`
	Created time.Time            `json:"created"`
	Events  []core.IndexingEvent `json:"events"`
}

// SpoolConfig configures a spool.
type SpoolConfig struct {
	Dir    string
	Logger *slog.Logger
}

// Spool is a durable queue of indexing events kept as JSON batch files.
// Batch names sort in sending order.
type Spool struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	seq      int
	sent     int
	events   int
	acked    int
	rejected int
}

// NewSpool creates the spool directory if needed.
func NewSpool(cfg SpoolConfig) (*Spool, error) {
	if cfg.Dir == "" {
		return nil, errors.New("spool directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Spool{dir: cfg.Dir, logger: logger}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string { return s.dir }

// Send writes events as one batch. It implements core.EventSender.
func (s *Spool) Send(ctx context.Context, events []core.IndexingEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := Batch{ID: uuid.NewString(), Created: time.Now().UTC(), Events: events}
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.seq++
	name := fmt.Sprintf("%s%020d-%06d-%s%s", batchPrefix, batch.Created.UnixNano(), s.seq, batch.ID, batchExt)
	s.mu.Unlock()

	if err := WriteFileAtomic(filepath.Join(s.dir, name), data, 0644); err != nil {
		return fmt.Errorf("failed to spool %d events: %w", len(events), err)
	}

	s.mu.Lock()
	s.sent++
	s.events += len(events)
	s.mu.Unlock()
	s.logger.Debug("events spooled", "batch", batch.ID, "events", len(events))
	return nil
}

func isBatch(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, batchPrefix) && strings.HasSuffix(base, batchExt) && !isTemp(base)
}

// Pending lists batch names in sending order.
func (s *Spool) Pending() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && isBatch(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Read decodes a pending batch.
func (s *Spool) Read(name string) (Batch, error) {
	var b Batch
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return b, err
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("corrupted batch %s: %w", name, err)
	}
	return b, nil
}

// Ack removes a processed batch.
func (s *Spool) Ack(name string) error {
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.mu.Lock()
	s.acked++
	s.mu.Unlock()
	return nil
}

// Reject moves a batch that keeps failing out of the queue.
func (s *Spool) Reject(name string) error {
	dir := filepath.Join(s.dir, rejectedDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.Rename(filepath.Join(s.dir, name), filepath.Join(dir, name)); err != nil {
		return err
	}
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
	s.logger.Warn("batch rejected", "batch", name)
	return nil
}

var _ core.EventSender = (*Spool)(nil)
