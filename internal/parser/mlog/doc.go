// Package mlog decodes the binary event stream written by the Mono log
// profiler (format versions 13 and 14).
//
// A stream starts with a StreamHeader followed by length-framed buffers.
// Every buffer carries its own base values; events inside it are delta
// encoded against those bases and against running counters that live only
// for the duration of that buffer's decode.
//
// Two identifier spaces share an integer representation and are kept apart
// by type:
//
//   - Pointer: a raw runtime address, SLEB128 delta + pointer base, truncated
//     to 32 bits on 32-bit producers.
//   - ObjectID: an allocation identity, (SLEB128 delta + object base) << 3.
//
// Processor drives decoding and hands every event to an immediate Visitor in
// decode order and, optionally, to a sorted Visitor in timestamp order between
// synchronization points.
//
// Basic usage:
//
//	p := mlog.NewProcessor(f, myVisitor, nil, nil)
//	stats, err := p.Process(ctx, false)
package mlog
