// Package tool defines the data model shared by every part of the runtime.
//
// A Definition names one capability, describes its arguments with a JSON
// Schema, and carries the Handler that executes it. Platforms restricts
// which calling surfaces see the tool; Requires lists capability tags that
// must be present in the environment before the handler may run.
//
// A Context is built by the caller for each invocation:
//
//	tc := tool.NewContext("alice", "discord")
//	tc.ChannelID = "general"
//
// The package also owns the error taxonomy. Structural failures
// (ErrContractViolation, ErrDuplicateName, ErrReloadFailure) are returned to
// callers; execution failures (ErrToolNotFound, ErrCapabilityUnavailable,
// ErrToolExecution) are rendered as text by the registry.
package tool
