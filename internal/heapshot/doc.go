// Package heapshot indexes heap walks from a Mono log stream into disk-backed
// snapshots and answers per-type queries over them.
//
// A Heapshot is filled by exactly one writer (usually a Builder attached to a
// processor), then frozen. Freezing builds the indexes, classifies roots and
// computes per-type totals; every query requires a frozen store. Each store is
// a standalone SQLite file so two stores can be built concurrently and later
// attached side by side for diffing.
package heapshot
