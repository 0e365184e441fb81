// Package coordinator owns a closed set of typed memory pools, allocation
// bookkeeping, pressure-tier computation and reclamation. It answers bus
// queries about its state and emits pressure alerts, and runs its own
// pressure, cleanup and metrics loops regardless of whether anyone queries
// it.
package coordinator
