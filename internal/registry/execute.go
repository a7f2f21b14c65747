// ABOUTME: Dispatches tool calls to handlers and renders failures as text for the calling model.
// ABOUTME: Handler faults and panics are contained; lookup happens once per call.

package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2389/coven-tools/internal/tool"
)

// Invocation outcomes reported to the Observer.
const (
	OutcomeOK                    = "ok"
	OutcomeNotFound              = "tool_not_found"
	OutcomeCapabilityUnavailable = "capability_unavailable"
	OutcomeError                 = "tool_execution"
)

// Observer receives one report per Execute call.
type Observer interface {
	// StartInvocation is called before dispatch. The returned context is
	// passed to the handler; finish is called exactly once with the outcome.
	StartInvocation(ctx context.Context, toolName, module string) (context.Context, func(outcome string))
}

// NoopObserver discards invocation reports.
type NoopObserver struct{}

// StartInvocation implements Observer.
func (NoopObserver) StartInvocation(ctx context.Context, _, _ string) (context.Context, func(string)) {
	return ctx, func(string) {}
}

// ExecError is a failed invocation. It matches the sentinel in Kind and,
// for handler faults, the handler's own error.
type ExecError struct {
	Tool   string
	Kind   error
	Detail string
	Cause  error
}

func (e *ExecError) Error() string {
	return e.Detail
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *ExecError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// Code is the short tag used in rendered error text.
func (e *ExecError) Code() string {
	switch {
	case errors.Is(e.Kind, tool.ErrToolNotFound):
		return OutcomeNotFound
	case errors.Is(e.Kind, tool.ErrCapabilityUnavailable):
		return OutcomeCapabilityUnavailable
	default:
		return OutcomeError
	}
}

// Execute runs a tool and always returns text. Unknown tools, missing
// capabilities and handler faults become error strings rather than errors.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, tc tool.Context) string {
	out, err := r.Invoke(ctx, name, args, tc)
	if err == nil {
		return out
	}
	return ErrorText(name, err)
}

// ErrorText renders a failed invocation the way Execute returns it.
func ErrorText(name string, err error) string {
	var ee *ExecError
	if errors.As(err, &ee) {
		return fmt.Sprintf("Error [%s]: %s", ee.Code(), ee.Detail)
	}
	return fmt.Sprintf("Error [%s]: %s: %v", OutcomeError, name, err)
}

// Invoke runs a tool and returns failures as *ExecError.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, tc tool.Context) (string, error) {
	start := time.Now()

	// Resolve once; the handler below runs against this copy even if the
	// module is swapped while it is in flight.
	r.mu.RLock()
	e, ok := r.tools[name]
	var (
		def    tool.Definition
		module string
	)
	if ok {
		def, module = e.def, e.module
	}
	r.mu.RUnlock()

	ctx, finish := r.observer.StartInvocation(ctx, name, module)

	if !ok {
		finish(OutcomeNotFound)
		r.logger.Debug("tool not found in registry", "tool", name)
		return "", &ExecError{
			Tool:   name,
			Kind:   tool.ErrToolNotFound,
			Detail: fmt.Sprintf("unknown tool %q", name),
		}
	}

	if missing := r.caps.Missing(def.Requires); len(missing) > 0 {
		finish(OutcomeCapabilityUnavailable)
		r.logger.Info("tool refused, capability unavailable",
			"tool", name,
			"module", module,
			"missing", missing,
		)
		return "", &ExecError{
			Tool:   name,
			Kind:   tool.ErrCapabilityUnavailable,
			Detail: fmt.Sprintf("tool %q requires unavailable capabilities: %s", name, strings.Join(missing, ", ")),
		}
	}

	if args == nil {
		args = map[string]any{}
	}

	r.logger.Info("→ dispatching tool",
		"tool", name,
		"module", module,
		"platform", tc.Platform,
		"user_id", tc.UserID,
	)

	out, err := invoke(ctx, def, args, tc)
	if err != nil {
		finish(OutcomeError)
		r.logger.Warn("tool handler error",
			"tool", name,
			"module", module,
			"duration", time.Since(start),
			"error", err,
		)
		return "", &ExecError{
			Tool:   name,
			Kind:   tool.ErrToolExecution,
			Detail: fmt.Sprintf("%s: %v", name, err),
			Cause:  err,
		}
	}

	finish(OutcomeOK)
	r.logger.Info("← tool responded",
		"tool", name,
		"module", module,
		"duration", time.Since(start),
	)
	return out, nil
}

// invoke calls the handler, converting a panic into an error.
func invoke(ctx context.Context, def tool.Definition, args map[string]any, tc tool.Context) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return def.Handler(ctx, args, tc)
}
