// Provides common oshdb errors definitions.
package oshdb_errors

import "errors"

var (
	// ErrTimeout is returned when a query deadline elapses before the reduction completes.
	ErrTimeout = errors.New("oshdb: query timed out")
	// ErrTableNotFound is returned before any cell is visited when a requested
	// sub-store (table, cache) is missing in the backend.
	ErrTableNotFound = errors.New("oshdb: table not found")

	ErrCellDecode   = errors.New("oshdb: cannot decode grid cell")
	ErrJobPanic     = errors.New("oshdb: job panicked")
	ErrNoNodes      = errors.New("oshdb: cluster has no nodes")
	ErrNodeUnknown  = errors.New("oshdb: unknown cluster node")
	ErrNodeExists   = errors.New("oshdb: cluster node already joined")
	ErrTopology     = errors.New("oshdb: cluster topology is fixed once data is loaded")
	ErrClosed       = errors.New("oshdb: store is closed")
	ErrBadQuery     = errors.New("oshdb: bad query")
	ErrUnknownStore = errors.New("oshdb: unknown backend")
)
