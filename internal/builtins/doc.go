// Package builtins provides the modules compiled into coven-tools.
//
// # Modules
//
// notes (builtin:notes) - requires the "notes" capability:
//
//   - note_set: Store a note
//   - note_get: Retrieve a note
//   - note_list: List all note keys
//   - note_delete: Delete a note
//
// runtime (builtin:runtime):
//
//   - list_tools: List the tools available on the caller's platform
//   - module_status: Show loaded modules and load errors
//
// # Registration
//
// Builtins are module sources; add them to the loader before LoadAll:
//
//	l.AddSource(builtins.NotesModule(store))
//	l.AddSource(builtins.RuntimeModule(registry, l))
//
// Every load builds new handler values, so a reload of a builtin behaves
// exactly like a reload of a manifest module.
//
// # Data Persistence
//
// Notes are stored through store.NoteStore and scoped by the UserID of
// the tool context, so two users never see each other's keys.
package builtins
