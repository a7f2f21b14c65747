// Package registry is the authoritative in-memory store of tool definitions.
//
// # Ownership
//
// Every tool belongs to exactly one module. Names are globally unique: a
// registration that claims a name owned by another module fails with
// tool.ErrDuplicateName and leaves the registry unchanged. A module's tools
// are registered all-or-nothing (RegisterModule) and replaced in one step
// on reload (ReplaceModule), so readers never see half of an old module
// and half of a new one.
//
// # Filtering
//
// GetTools returns tools visible on a platform whose required capabilities
// are covered by the supplied set, converted to a wire format, in
// registration order:
//
//	tools := reg.GetTools("discord", nil, convert.NativeBlock)
//
// # Dispatch
//
// Execute resolves a definition once and runs its handler outside the
// registry lock. Unknown tools, missing capabilities, handler errors and
// panics are all returned as text:
//
//	Error [tool_not_found]: unknown tool "nope"
//	Error [capability_unavailable]: tool "sandbox" requires unavailable capabilities: docker
//	Error [tool_execution]: fetch: connection refused
//
// Invoke offers the same dispatch with typed errors for programmatic callers.
package registry
