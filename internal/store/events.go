// ABOUTME: Module lifecycle journal: load, reload, unload and shutdown outcomes per module
// ABOUTME: Gives operators a history of which module versions were live and why loads failed

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// tsLayout is fixed-width so lexical order in SQLite matches time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// AppendModuleEvent appends a new entry to the module journal.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendModuleEvent(ctx context.Context, e *ModuleEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	tools := e.Tools
	if tools == nil {
		tools = []string{}
	}
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("marshaling tool names: %w", err)
	}

	query := `
		INSERT INTO module_events (event_id, module, version, action, success, error, source, hash, generation, tools_json, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		e.ID,
		e.Module,
		e.Version,
		string(e.Action),
		e.Success,
		e.Error,
		e.Source,
		e.Hash,
		e.Generation,
		string(toolsJSON),
		e.Timestamp.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting module event: %w", err)
	}

	s.logger.Debug("appended module event",
		"id", e.ID,
		"module", e.Module,
		"action", e.Action,
		"success", e.Success,
	)
	return nil
}

// ListModuleEvents returns journal entries, newest first.
func (s *SQLiteStore) ListModuleEvents(ctx context.Context, f EventFilter) ([]*ModuleEvent, error) {
	var module, since *string
	if f.Module != "" {
		module = &f.Module
	}
	if f.Since != nil {
		str := f.Since.UTC().Format(tsLayout)
		since = &str
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, module, version, action, success, error, source, hash, generation, tools_json, ts
		FROM module_events
		WHERE (? IS NULL OR module = ?)
		  AND (? IS NULL OR ts >= ?)
		ORDER BY ts DESC
		LIMIT ?
	`, module, module, since, since, normalizeLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying module events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*ModuleEvent
	for rows.Next() {
		e, err := scanModuleEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// normalizeLimit applies default (100) and cap (1000) to a list limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// scanModuleEvent scans a row into a ModuleEvent.
func scanModuleEvent(scanner interface{ Scan(dest ...any) error }) (*ModuleEvent, error) {
	var e ModuleEvent
	var action, toolsJSON, ts string

	if err := scanner.Scan(
		&e.ID,
		&e.Module,
		&e.Version,
		&action,
		&e.Success,
		&e.Error,
		&e.Source,
		&e.Hash,
		&e.Generation,
		&toolsJSON,
		&ts,
	); err != nil {
		return nil, fmt.Errorf("scanning module event: %w", err)
	}

	e.Action = EventAction(action)
	var err error
	e.Timestamp, err = time.Parse(tsLayout, ts)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(toolsJSON), &e.Tools); err != nil {
		return nil, fmt.Errorf("unmarshaling tool names: %w", err)
	}
	return &e, nil
}
