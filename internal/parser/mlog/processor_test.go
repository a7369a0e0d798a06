package mlog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heapshot-analysis/internal/testutil"
	apperrors "github.com/heapshot-analysis/pkg/errors"
	"github.com/heapshot-analysis/pkg/utils"
)

// recorder keeps every event it sees in VisitBefore.
type recorder struct {
	NopVisitor
	events []Event
	onSync func()
	failOn func(Event) error
}

func (r *recorder) VisitBefore(ev Event) error {
	if r.failOn != nil {
		if err := r.failOn(ev); err != nil {
			return err
		}
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) VisitSynchronizationPoint(*SynchronizationPointEvent) error {
	if r.onSync != nil {
		r.onSync()
	}
	return nil
}

func (r *recorder) timestamps() []uint64 {
	out := make([]uint64, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Timestamp()
	}
	return out
}

type countingReader struct {
	r     io.Reader
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return c.r.Read(p)
}

func testOptions(clock utils.Clock) *ProcessorOptions {
	return &ProcessorOptions{LiveInterval: 10 * time.Millisecond, Clock: clock}
}

func allocAndSyncStream() []byte {
	w := testutil.NewLogWriter(14, 8).StreamHeader()
	b := w.NewBuffer(testTimeBase, testPointerBase, testObjectBase, testMethodBase)
	b.Alloc(10, 0x10400, 0x8040, 32)
	b.SyncPoint(5, byte(SyncPeriodic))
	return w.Buffer(b).Bytes()
}

func TestProcess_ConsumesBuffersExactly(t *testing.T) {
	w := testutil.NewLogWriter(14, 8).StreamHeader()
	b1 := w.NewBuffer(1000, testPointerBase, testObjectBase, testMethodBase)
	b1.ClassLoad(1, 0x10400, 0x10100, "System.Object")
	b1.Alloc(1, 0x10400, 0x8040, 24)
	b2 := w.NewBuffer(2000, testPointerBase, testObjectBase, testMethodBase)
	b2.Alloc(1, 0x10400, 0x8048, 24)
	data := w.Buffer(b1).Buffer(b2).Bytes()

	immediate := &recorder{}
	stats, err := NewProcessor(bytes.NewReader(data), immediate, nil, nil).Process(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Buffers)
	assert.Equal(t, int64(3), stats.Events)
	assert.Equal(t, int64(len(data)), stats.Bytes)
	assert.False(t, stats.Canceled)
	assert.Len(t, immediate.events, 3)
	assert.Same(t, immediate.events[0].(*ClassLoadEvent).Buffer, immediate.events[1].(*AllocationEvent).Buffer)
}

func TestProcess_DeclaredLengthMismatch(t *testing.T) {
	w := testutil.NewLogWriter(14, 8)
	b := w.NewBuffer(testTimeBase, testPointerBase, testObjectBase, testMethodBase)
	b.Alloc(1, 0x10400, 0x8040, 24)
	body := b.Body()

	tests := []struct {
		name   string
		header []byte
		body   []byte
	}{
		{"declared one byte short", b.Header(len(body) - 1), body[:len(body)-1]},
		{"declared one byte long", b.Header(len(body) + 1), append(bytes.Clone(body), 0x0A)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := testutil.NewLogWriter(14, 8).StreamHeader().Raw(tt.header).Raw(tt.body).Bytes()
			_, err := NewProcessor(bytes.NewReader(data), &recorder{}, nil, nil).Process(context.Background(), false)
			require.Error(t, err)
			assert.True(t, apperrors.IsMalformedRecord(err), "got %v", err)
		})
	}
}

func TestProcess_SortedFlushAtSyncPoint(t *testing.T) {
	sorted := &recorder{}
	sortedAtSync := -1
	immediate := &recorder{onSync: func() { sortedAtSync = len(sorted.events) }}

	stats, err := NewProcessor(bytes.NewReader(allocAndSyncStream()), immediate, sorted, nil).
		Process(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.SyncPoints)

	require.Len(t, immediate.events, 2)
	assert.IsType(t, &AllocationEvent{}, immediate.events[0])
	assert.IsType(t, &SynchronizationPointEvent{}, immediate.events[1])

	assert.Equal(t, 0, sortedAtSync, "sorted consumer saw events before the sync point")
	assert.Equal(t, immediate.events, sorted.events)
	assert.Equal(t, []uint64{1010, 1015}, sorted.timestamps())
}

func TestProcess_SortedAcrossBuffers(t *testing.T) {
	w := testutil.NewLogWriter(14, 8).StreamHeader()
	late := w.NewBuffer(2000, testPointerBase, testObjectBase, testMethodBase)
	late.Alloc(0, 0x10400, 0x8040, 24)
	early := w.NewBuffer(1000, testPointerBase, testObjectBase, testMethodBase)
	early.Alloc(0, 0x10400, 0x8048, 24)
	early.SyncPoint(5, byte(SyncWorldStop))
	tail := w.NewBuffer(3000, testPointerBase, testObjectBase, testMethodBase)
	tail.Alloc(0, 0x10400, 0x8050, 24)
	data := w.Buffer(late).Buffer(early).Buffer(tail).Bytes()

	immediate, sorted := &recorder{}, &recorder{}
	_, err := NewProcessor(bytes.NewReader(data), immediate, sorted, nil).Process(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []uint64{2000, 1000, 1005, 3000}, immediate.timestamps())
	assert.Equal(t, []uint64{1000, 1005, 2000, 3000}, sorted.timestamps(), "tail flushed at end of input")
}

func TestProcess_LiveWaitsForPartialBuffer(t *testing.T) {
	data := allocAndSyncStream()
	const missing = 3
	source := testutil.NewTailBuffer(data[:len(data)-missing])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	immediate, sorted := &recorder{}, &recorder{}
	deliveredBeforeAppend := -1
	clock := utils.NewMockClock(time.Unix(0, 0))
	clock.OnAfter(func(wait int, _ time.Duration) {
		switch wait {
		case 1:
			deliveredBeforeAppend = len(immediate.events)
			_, _ = source.Write(data[len(data)-missing:])
		default:
			cancel()
		}
	})

	stats, err := NewProcessor(source, immediate, sorted, testOptions(clock)).Process(ctx, true)
	require.NoError(t, err)

	assert.True(t, stats.Canceled)
	assert.Equal(t, 0, deliveredBeforeAppend)
	assert.Equal(t, int64(1), stats.Buffers)
	assert.Len(t, immediate.events, 2)
	assert.Len(t, sorted.events, 2)
	assert.Equal(t, int64(len(data)), stats.Bytes)
}

func TestProcess_NonLiveTruncatedBody(t *testing.T) {
	data := allocAndSyncStream()
	immediate := &recorder{}

	stats, err := NewProcessor(bytes.NewReader(data[:len(data)-3]), immediate, nil, nil).
		Process(context.Background(), false)
	require.Error(t, err)
	assert.True(t, apperrors.IsTruncatedStream(err), "got %v", err)
	assert.False(t, stats.Canceled)
	assert.Empty(t, immediate.events)
}

func TestProcess_CancelDuringWait(t *testing.T) {
	header := testutil.NewLogWriter(14, 8).StreamHeader().Bytes()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := utils.NewMockClock(time.Unix(0, 0))
	clock.OnAfter(func(wait int, _ time.Duration) {
		if wait == 3 {
			cancel()
		}
	})

	stats, err := NewProcessor(testutil.NewTailBuffer(header), &recorder{}, nil, testOptions(clock)).Process(ctx, true)
	require.NoError(t, err)
	assert.True(t, stats.Canceled)
	assert.Equal(t, int64(0), stats.Buffers)
	assert.Equal(t, 3, clock.Waits(), "stopped within one wait interval of the cancel")
}

func TestProcess_CancelKeepsUnsyncedEventsPending(t *testing.T) {
	w := testutil.NewLogWriter(14, 8).StreamHeader()
	b := w.NewBuffer(testTimeBase, testPointerBase, testObjectBase, testMethodBase)
	b.Alloc(10, 0x10400, 0x8040, 32)
	data := w.Buffer(b).Bytes()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := utils.NewMockClock(time.Unix(0, 0))
	clock.OnAfter(func(int, time.Duration) { cancel() })

	immediate, sorted := &recorder{}, &recorder{}
	stats, err := NewProcessor(testutil.NewTailBuffer(data), immediate, sorted, testOptions(clock)).Process(ctx, true)
	require.NoError(t, err)

	assert.True(t, stats.Canceled)
	assert.Len(t, immediate.events, 1)
	assert.Empty(t, sorted.events)
}

func TestProcess_DrainsAtBufferBoundary(t *testing.T) {
	header := testutil.NewLogWriter(13, 4).StreamHeader().Bytes()
	p := NewProcessor(bytes.NewReader(header), &recorder{}, &recorder{}, nil)
	assert.Nil(t, p.StreamHeader())

	stats, err := p.Process(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, stats.Canceled)
	assert.Equal(t, int64(0), stats.Buffers)

	require.NotNil(t, p.StreamHeader())
	assert.Equal(t, byte(13), p.StreamHeader().FormatVersion)
	assert.Equal(t, byte(4), p.StreamHeader().PointerSize)
}

func TestProcess_UnknownEventIsFatal(t *testing.T) {
	w := testutil.NewLogWriter(14, 8).StreamHeader()
	b := w.NewBuffer(testTimeBase, testPointerBase, testObjectBase, testMethodBase)
	b.Alloc(1, 0x10400, 0x8040, 24)
	b.Event(0x0B, 1)
	b.Alloc(1, 0x10400, 0x8048, 24)
	data := w.Buffer(b).Bytes()

	immediate, sorted := &recorder{}, &recorder{}
	_, err := NewProcessor(bytes.NewReader(data), immediate, sorted, nil).Process(context.Background(), false)
	require.Error(t, err)
	assert.True(t, apperrors.IsMalformedRecord(err), "got %v", err)
	assert.Len(t, immediate.events, 1)
	assert.Empty(t, sorted.events)
}

func TestProcess_ReuseViolation(t *testing.T) {
	src := &countingReader{r: bytes.NewReader(allocAndSyncStream())}
	p := NewProcessor(src, &recorder{}, nil, nil)

	_, err := p.Process(context.Background(), false)
	require.NoError(t, err)
	reads := src.reads

	stats, err := p.Process(context.Background(), false)
	assert.Nil(t, stats)
	assert.True(t, apperrors.IsReuseViolation(err))
	assert.Equal(t, reads, src.reads, "second run must not touch the stream")
}

func TestProcess_VisitorErrorAborts(t *testing.T) {
	errStop := errors.New("consumer full")
	immediate := &recorder{failOn: func(ev Event) error {
		if _, ok := ev.(*SynchronizationPointEvent); ok {
			return errStop
		}
		return nil
	}}
	sorted := &recorder{}

	_, err := NewProcessor(bytes.NewReader(allocAndSyncStream()), immediate, sorted, nil).
		Process(context.Background(), false)
	require.ErrorIs(t, err, errStop)
	assert.Len(t, immediate.events, 1)
	assert.Empty(t, sorted.events)
}

func TestProcess_MaxBufferLength(t *testing.T) {
	w := testutil.NewLogWriter(14, 8).StreamHeader()
	b := w.NewBuffer(testTimeBase, testPointerBase, testObjectBase, testMethodBase)
	for i := 0; i < 8; i++ {
		b.Alloc(1, 0x10400, 0x8040+int64(i)*8, 24)
	}
	data := w.Buffer(b).Bytes()

	_, err := NewProcessor(bytes.NewReader(data), nil, nil, &ProcessorOptions{MaxBufferLength: 16}).
		Process(context.Background(), false)
	assert.True(t, apperrors.IsMalformedRecord(err), "got %v", err)
}
