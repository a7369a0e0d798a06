package mlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "github.com/heapshot-analysis/pkg/errors"
	"github.com/heapshot-analysis/pkg/utils"
)

const tracerName = "github.com/heapshot-analysis/internal/parser/mlog"

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	// LiveInterval is the sleep between retries while tailing a live stream.
	LiveInterval time.Duration

	// MaxBufferLength rejects buffers declaring a larger body.
	MaxBufferLength int

	Logger utils.Logger
	Clock  utils.Clock
}

// DefaultProcessorOptions returns default processor options.
func DefaultProcessorOptions() *ProcessorOptions {
	return &ProcessorOptions{
		LiveInterval:    100 * time.Millisecond,
		MaxBufferLength: 64 << 20,
		Logger:          &utils.NullLogger{},
		Clock:           utils.NewRealClock(),
	}
}

// ProcessStats summarizes one processing run.
type ProcessStats struct {
	Buffers    int64
	Events     int64
	Bytes      int64
	SyncPoints int64
	Waits      int64
	Canceled   bool
	Duration   time.Duration
}

// Processor reads a log stream and dispatches its events. It is single-use.
type Processor struct {
	src       io.Reader
	immediate Visitor
	sorted    Visitor
	opts      ProcessorOptions

	used    atomic.Bool
	header  atomic.Pointer[StreamHeader]
	pending []Event
}

// NewProcessor creates a processor. Either visitor may be nil; the sorted
// visitor receives events in timestamp order, flushed at every
// synchronization point and at end of input.
func NewProcessor(src io.Reader, immediate, sorted Visitor, opts *ProcessorOptions) *Processor {
	o := *DefaultProcessorOptions()
	if opts != nil {
		if opts.LiveInterval > 0 {
			o.LiveInterval = opts.LiveInterval
		}
		if opts.MaxBufferLength > 0 {
			o.MaxBufferLength = opts.MaxBufferLength
		}
		if opts.Logger != nil {
			o.Logger = opts.Logger
		}
		if opts.Clock != nil {
			o.Clock = opts.Clock
		}
	}
	return &Processor{src: src, immediate: immediate, sorted: sorted, opts: o}
}

// StreamHeader returns the stream header once it has been read, nil before.
func (p *Processor) StreamHeader() *StreamHeader {
	return p.header.Load()
}

// Process decodes the stream until it drains (non-live) or ctx is canceled.
// Cancellation is not an error: it returns stats with Canceled set. Any
// decode, read or visitor error aborts the run.
func (p *Processor) Process(ctx context.Context, live bool) (*ProcessStats, error) {
	if !p.used.CompareAndSwap(false, true) {
		return nil, apperrors.ErrReuseViolation
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "mlog.Process")
	defer span.End()

	start := p.opts.Clock.Now()
	stats := &ProcessStats{}
	cursor := &streamCursor{
		src:      p.src,
		live:     live,
		interval: p.opts.LiveInterval,
		clock:    p.opts.Clock,
		logger:   p.opts.Logger,
	}

	err := p.run(ctx, cursor, stats)

	stats.Bytes = cursor.offset
	stats.Waits = cursor.waits
	stats.Duration = p.opts.Clock.Since(start)
	span.SetAttributes(
		attribute.Bool("mlog.live", live),
		attribute.Int64("mlog.buffers", stats.Buffers),
		attribute.Int64("mlog.events", stats.Events),
		attribute.Int64("mlog.bytes", stats.Bytes),
	)

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		stats.Canceled = true
		span.SetAttributes(attribute.Bool("mlog.canceled", true))
		p.opts.Logger.Info("processing canceled after %d buffers, %d events", stats.Buffers, stats.Events)
		return stats, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}

	p.opts.Logger.Debug("processed %d buffers, %d events, %d bytes", stats.Buffers, stats.Events, stats.Bytes)
	return stats, nil
}

func (p *Processor) run(ctx context.Context, cursor *streamCursor, stats *ProcessStats) error {
	sh, err := readStreamHeader(ctx, cursor)
	if err != nil {
		return fmt.Errorf("reading stream header: %w", err)
	}
	p.header.Store(sh)
	p.opts.Logger.Debug("stream format %d, pointer size %d, pid %d", sh.FormatVersion, sh.PointerSize, sh.ProcessID)

	raw := make([]byte, BufferHeaderSize)
	var body []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		offset := cursor.offset
		if err := cursor.readFull(ctx, raw, true); err != nil {
			if errors.Is(err, errDrained) {
				return p.flush()
			}
			return fmt.Errorf("reading buffer header at offset %d: %w", offset, err)
		}

		bh, err := parseBufferHeader(raw, offset, p.opts.MaxBufferLength)
		if err != nil {
			return err
		}

		if cap(body) < int(bh.Length) {
			body = make([]byte, bh.Length)
		}
		body = body[:bh.Length]
		if err := cursor.readFull(ctx, body, false); err != nil {
			return fmt.Errorf("reading body of buffer at offset %d: %w", offset, err)
		}

		if err := p.processBuffer(sh, bh, body, stats); err != nil {
			return fmt.Errorf("buffer at offset %d: %w", offset, err)
		}
		stats.Buffers++
	}
}

// processBuffer decodes events until the body is consumed exactly. Event
// values never alias body, so the area can be reused for the next buffer.
func (p *Processor) processBuffer(sh *StreamHeader, bh *BufferHeader, body []byte, stats *ProcessStats) error {
	dc := newDecodeContext(sh, bh, body)
	for !dc.done() {
		ev, err := dc.next()
		if err != nil {
			return err
		}
		stats.Events++

		if p.immediate != nil {
			if err := Dispatch(p.immediate, ev); err != nil {
				return err
			}
		}

		if p.sorted != nil {
			p.pending = append(p.pending, ev)
		}

		if _, ok := ev.(*SynchronizationPointEvent); ok {
			stats.SyncPoints++
			if err := p.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush delivers pending events to the sorted visitor in timestamp order,
// keeping decode order for equal timestamps.
func (p *Processor) flush() error {
	if p.sorted == nil || len(p.pending) == 0 {
		return nil
	}
	sort.SliceStable(p.pending, func(i, j int) bool {
		return p.pending[i].Timestamp() < p.pending[j].Timestamp()
	})
	for i, ev := range p.pending {
		if err := Dispatch(p.sorted, ev); err != nil {
			p.pending = p.pending[i+1:]
			return err
		}
	}
	p.pending = p.pending[:0]
	return nil
}
