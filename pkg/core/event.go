package core

import (
	"time"

	"github.com/google/uuid"
)

// IndexingEvent is the serialized form of an index command, processed out
// of band by a background worker.
type IndexingEvent struct {
	ID         string         `json:"id"`
	Kind       CommandKind    `json:"kind"`
	Type       string         `json:"type"`
	DocumentID string         `json:"documentId"`
	Routes     DocumentRoutes `json:"routes"`
	Dirty      Dirtiness      `json:"dirty"`
	Timestamp  int64          `json:"timestamp"`
}

// NewIndexingEvent stamps a new event with a unique ID.
func NewIndexingEvent(kind CommandKind, typeName, documentID string, routes DocumentRoutes, dirty Dirtiness) IndexingEvent {
	return IndexingEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		Type:       typeName,
		DocumentID: documentID,
		Routes:     routes,
		Dirty:      dirty,
		Timestamp:  time.Now().Unix(),
	}
}

// String implements fmt.Stringer.
func (e IndexingEvent) String() string {
	return string(e.Kind) + " " + e.Type + "#" + e.DocumentID
}
