// Package telemetry records tool invocations and module lifecycle
// operations as OpenTelemetry metrics and spans.
package telemetry
