// Package store provides persistence for coven-tools.
//
// # Overview
//
// The store keeps two kinds of records:
//
//   - Module events: a journal of every load, reload, unload and shutdown,
//     including failures, so operators can see which module versions were
//     live and why a reload was rejected.
//   - Notes: per-user key-value notes backing the builtin notes module.
//
// Tool invocations are not persisted.
//
// # Implementations
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) in WAL mode. The
// schema is created on open. MockStore is an in-memory implementation for
// tests.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/coven-tools/tools.db")
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	events, err := s.ListModuleEvents(ctx, store.EventFilter{Module: "weather", Limit: 20})
package store
