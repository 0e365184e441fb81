// Package mbus defines the message contract between the task scheduler and
// the resource coordinator: typed envelopes, a closed payload union with one
// variant per query kind, and the Bus interface with its correlation-keyed
// request/response convention. The two components communicate exclusively
// through this contract, which is what keeps them free of a compile-time
// dependency on each other.
package mbus
