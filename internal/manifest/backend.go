// ABOUTME: Handler backends for manifest tools: external command, HTTP endpoint, text template.
// ABOUTME: Arguments are validated against the declared schema before any backend runs.

package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389/coven-tools/internal/tool"
)

// maxResponseBytes caps how much of a backend's output becomes the tool result.
const maxResponseBytes = 1 << 20

// buildHandler creates the backend handler for one declared tool.
func buildHandler(module string, spec ToolSpec, baseDir string, client *http.Client) (tool.Handler, error) {
	switch {
	case spec.Command != nil:
		return commandHandler(*spec.Command, baseDir), nil
	case spec.HTTP != nil:
		return httpHandler(*spec.HTTP, client), nil
	default:
		tmpl, err := template.New(spec.Name).Option("missingkey=zero").Parse(spec.Template)
		if err != nil {
			return nil, &tool.ContractViolation{Module: module, Tool: spec.Name, Reason: fmt.Sprintf("invalid template: %v", err)}
		}
		return templateHandler(tmpl), nil
	}
}

// guard validates arguments and applies the per-tool timeout before calling next.
func guard(next tool.Handler, schema *jsonschema.Resolved, timeout time.Duration) tool.Handler {
	return func(ctx context.Context, args map[string]any, tc tool.Context) (string, error) {
		if schema != nil {
			if err := schema.Validate(args); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return next(ctx, args, tc)
	}
}

// commandHandler runs an executable with the JSON-encoded arguments on stdin
// and returns its stdout.
func commandHandler(spec CommandSpec, baseDir string) tool.Handler {
	bin := spec.Path
	if !filepath.IsAbs(bin) && strings.ContainsRune(bin, '/') {
		bin = filepath.Join(baseDir, bin)
	}

	return func(ctx context.Context, args map[string]any, tc tool.Context) (string, error) {
		input, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("encoding arguments: %w", err)
		}

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, bin, spec.Args...)
		cmd.Dir = baseDir
		cmd.Stdin = bytes.NewReader(input)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		cmd.WaitDelay = time.Second
		cmd.Env = append(os.Environ(),
			"COVEN_USER_ID="+tc.UserID,
			"COVEN_CHANNEL_ID="+tc.ChannelID,
			"COVEN_PLATFORM="+tc.Platform,
		)

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return "", fmt.Errorf("%w: %s", err, msg)
			}
			return "", err
		}

		return strings.TrimRight(capOutput(stdout.Bytes()), "\n"), nil
	}
}

// httpHandler sends the arguments to an endpoint. GET and DELETE carry them
// as query parameters, other methods as a JSON body.
func httpHandler(spec HTTPSpec, client *http.Client) tool.Handler {
	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = http.MethodPost
	}

	return func(ctx context.Context, args map[string]any, tc tool.Context) (string, error) {
		target := spec.URL
		var body io.Reader

		if method == http.MethodGet || method == http.MethodDelete {
			u, err := url.Parse(spec.URL)
			if err != nil {
				return "", fmt.Errorf("parsing url: %w", err)
			}
			q := u.Query()
			for k, v := range args {
				q.Set(k, fmt.Sprint(v))
			}
			u.RawQuery = q.Encode()
			target = u.String()
		} else {
			payload, err := json.Marshal(args)
			if err != nil {
				return "", fmt.Errorf("encoding arguments: %w", err)
			}
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return "", fmt.Errorf("creating request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("X-Coven-User", tc.UserID)
		req.Header.Set("X-Coven-Platform", tc.Platform)
		for k, v := range spec.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("calling %s: %w", spec.URL, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
		if err != nil {
			return "", fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(capOutput(data)))
		}
		return capOutput(data), nil
	}
}

// capOutput cuts output at maxResponseBytes and says so.
func capOutput(data []byte) string {
	if len(data) <= maxResponseBytes {
		return string(data)
	}
	return string(data[:maxResponseBytes]) + fmt.Sprintf("\n[output truncated at %d bytes]", maxResponseBytes)
}

// templateHandler renders the template with the arguments as data.
func templateHandler(tmpl *template.Template) tool.Handler {
	return func(_ context.Context, args map[string]any, _ tool.Context) (string, error) {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, args); err != nil {
			return "", fmt.Errorf("rendering template: %w", err)
		}
		return buf.String(), nil
	}
}
