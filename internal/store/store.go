// ABOUTME: Store interfaces and data types for coven-tools persistence
// ABOUTME: Defines module lifecycle events and per-user notes plus the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// EventAction is a module lifecycle transition.
type EventAction string

const (
	EventLoad     EventAction = "load"
	EventReload   EventAction = "reload"
	EventUnload   EventAction = "unload"
	EventShutdown EventAction = "shutdown"
)

// ValidEventActions lists all valid event actions.
var ValidEventActions = []EventAction{EventLoad, EventReload, EventUnload, EventShutdown}

// ModuleEvent records one structural operation on a module.
type ModuleEvent struct {
	ID         string      // UUID v4
	Module     string      // module name, or source id when the name is unknown
	Version    string      // version after the operation
	Action     EventAction // what happened
	Success    bool        // whether the operation took effect
	Error      string      // failure reason when Success is false
	Source     string      // path or builtin id
	Hash       string      // sha256 of the source bytes, empty for builtins
	Generation string      // load generation id
	Tools      []string    // tool names owned after the operation
	Timestamp  time.Time
}

// EventFilter specifies filtering options for listing module events.
type EventFilter struct {
	Module string // filter by module name
	Since  *time.Time
	Limit  int // max results (default 100, max 1000)
}

// Note is a key-value note scoped to a user.
type Note struct {
	ID        string
	UserID    string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventStore persists module lifecycle events.
type EventStore interface {
	AppendModuleEvent(ctx context.Context, e *ModuleEvent) error
	ListModuleEvents(ctx context.Context, f EventFilter) ([]*ModuleEvent, error)
}

// NoteStore persists user notes for the notes module.
type NoteStore interface {
	SetNote(ctx context.Context, note *Note) error
	GetNote(ctx context.Context, userID, key string) (*Note, error)
	ListNotes(ctx context.Context, userID string) ([]*Note, error)
	DeleteNote(ctx context.Context, userID, key string) error
}

// Store is the full persistence interface.
type Store interface {
	EventStore
	NoteStore
	Close() error
}
