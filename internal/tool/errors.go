// ABOUTME: Error taxonomy shared by the registry, loader, converter and bridge.
// ABOUTME: Sentinels are matched with errors.Is; ContractViolation carries the failing module and tool.

package tool

import (
	"errors"
	"fmt"
)

var (
	// ErrContractViolation indicates a module or tool definition breaks the module contract.
	ErrContractViolation = errors.New("contract violation")

	// ErrDuplicateName indicates a tool name is already owned by a different module.
	ErrDuplicateName = errors.New("duplicate tool name")

	// ErrCapabilityUnavailable indicates a tool requires a capability the environment lacks.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrToolNotFound indicates the requested tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolExecution indicates a tool handler failed.
	ErrToolExecution = errors.New("tool execution fault")

	// ErrReloadFailure indicates a reload was rejected and the previous version stays active.
	ErrReloadFailure = errors.New("reload failure")

	// ErrMalformedToolCall indicates tool call arguments could not be parsed.
	ErrMalformedToolCall = errors.New("malformed tool call")

	// ErrProtocolUnavailable indicates the external protocol transport is not compiled in.
	ErrProtocolUnavailable = errors.New("protocol unavailable")
)

// ContractViolation describes why a module or one of its tools was rejected.
type ContractViolation struct {
	Module string
	Tool   string
	Reason string
}

func (e *ContractViolation) Error() string {
	switch {
	case e.Module != "" && e.Tool != "":
		return fmt.Sprintf("contract violation: module %q tool %q: %s", e.Module, e.Tool, e.Reason)
	case e.Module != "":
		return fmt.Sprintf("contract violation: module %q: %s", e.Module, e.Reason)
	case e.Tool != "":
		return fmt.Sprintf("contract violation: tool %q: %s", e.Tool, e.Reason)
	default:
		return "contract violation: " + e.Reason
	}
}

// Is reports whether target is ErrContractViolation.
func (e *ContractViolation) Is(target error) bool {
	return target == ErrContractViolation
}
