// Package tracing provides a thin wrapper around OpenTelemetry tracing so
// the rest of the code-base can emit spans (task execution, allocations)
// without depending on the upstream API directly. Spans are no-ops until a
// provider is installed via Init or InitWithExporter.
package tracing
