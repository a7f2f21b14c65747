// Package capability detects environment preconditions that tools depend on.
package capability
