package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/heapshot-analysis/internal/heapshot"
	"github.com/heapshot-analysis/internal/parser/mlog"
	"github.com/heapshot-analysis/internal/storage"
	"github.com/heapshot-analysis/pkg/compression"
	apperrors "github.com/heapshot-analysis/pkg/errors"
	"github.com/heapshot-analysis/pkg/model"
	"github.com/heapshot-analysis/pkg/utils"
)

// capture is a processed log stream with its frozen heapshots.
type capture struct {
	source  string
	header  *mlog.StreamHeader
	stats   *mlog.ProcessStats
	builder *heapshot.Builder
}

func (c *capture) Close() error {
	return c.builder.Close()
}

func (c *capture) heapshots() []*heapshot.Heapshot {
	return c.builder.Heapshots()
}

// heapshot returns the heapshot with id. Zero picks the last one, negative
// values count back from it.
func (c *capture) heapshot(id int) (*heapshot.Heapshot, error) {
	shots := c.heapshots()
	if len(shots) == 0 {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "%s contains no complete heapshot", c.source)
	}
	if id <= 0 {
		idx := len(shots) - 1 + id
		if idx < 0 {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "%s has only %d heapshots", c.source, len(shots))
		}
		return shots[idx], nil
	}
	for _, h := range shots {
		if h.ID() == id {
			return h, nil
		}
	}
	return nil, apperrors.Newf(apperrors.CodeNotFound, "heapshot %d not found in %s", id, c.source)
}

func (c *capture) info() model.CaptureInfo {
	info := model.CaptureInfo{Source: c.source}
	if h := c.header; h != nil {
		info.FormatVersion = int(h.FormatVersion)
		info.PointerSize = int(h.PointerSize)
		info.ProcessID = h.ProcessID
		info.Arguments = h.Arguments
		info.Architecture = h.Architecture
		info.OperatingSystem = h.OperatingSystem
		info.StartupTime = time.UnixMilli(int64(h.StartupTime)).UTC()
	}
	return info
}

func (c *capture) processSummary() model.ProcessSummary {
	return model.ProcessSummary{
		Buffers:    c.stats.Buffers,
		Events:     c.stats.Events,
		Bytes:      c.stats.Bytes,
		SyncPoints: c.stats.SyncPoints,
		Canceled:   c.stats.Canceled,
		DurationMs: c.stats.Duration.Milliseconds(),
	}
}

// progress logs heap walks as they are decoded, ahead of the sorted
// delivery that builds the stores.
type progress struct {
	mlog.NopVisitor
	log     utils.Logger
	objects int64
}

func (p *progress) VisitHeapBegin(ev *mlog.HeapBeginEvent) error {
	p.objects = 0
	p.log.Debug("heap walk started at %d", ev.Timestamp())
	return nil
}

func (p *progress) VisitHeapObject(*mlog.HeapObjectEvent) error {
	p.objects++
	return nil
}

func (p *progress) VisitHeapEnd(ev *mlog.HeapEndEvent) error {
	p.log.Debug("heap walk ended at %d with %d objects", ev.Timestamp(), p.objects)
	return nil
}

// loadOptions selects how a capture is read.
type loadOptions struct {
	live bool
	// stopAfter bounds a live run; zero follows until interrupted.
	stopAfter time.Duration
}

// load processes input, which is a local file or a key in the configured
// storage.
func (a *app) load(ctx context.Context, input string, opts loadOptions) (*capture, error) {
	log := a.log.WithField("source", input)
	defer a.timer.Start("process " + input).Stop()

	src, err := a.openInput(ctx, input, opts.live)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	reader, typ, err := compression.NewReader(src)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to open "+input, err)
	}
	defer reader.Close()
	if opts.live && typ != compression.TypeNone {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "cannot follow %s capture %s", typ, input)
	}
	if typ != compression.TypeNone {
		log.Debug("decompressing %s input", typ)
	}

	builder := heapshot.NewBuilder(ctx, heapshot.BuilderOptions{
		Store: heapshot.Options{
			Dir:       a.cfg.Heapshot.DataDir,
			BatchSize: a.cfg.Heapshot.BatchSize,
			KeepFile:  a.cfg.Heapshot.KeepFiles,
		},
		OnHeapshot: func(h *heapshot.Heapshot) error {
			log.Info("%s: %d objects, %d bytes", h.Name(), h.ObjectCount(), h.TotalSize())
			return nil
		},
		Logger: log,
	})

	runCtx := ctx
	if opts.live && opts.stopAfter > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.stopAfter)
		defer cancel()
	}

	proc := mlog.NewProcessor(reader, &progress{log: log}, builder, &mlog.ProcessorOptions{
		LiveInterval:    a.cfg.Processor.LiveInterval,
		MaxBufferLength: a.cfg.Processor.MaxBufferLength,
		Logger:          log,
	})
	stats, err := proc.Process(runCtx, opts.live)
	if err != nil {
		builder.Close()
		return nil, fmt.Errorf("failed to process %s: %w", input, err)
	}

	return &capture{
		source:  input,
		header:  proc.StreamHeader(),
		stats:   stats,
		builder: builder,
	}, nil
}

func (a *app) openInput(ctx context.Context, input string, live bool) (io.ReadCloser, error) {
	if _, err := os.Stat(input); err == nil {
		return os.Open(input)
	}

	store, err := a.newStorage(&a.cfg.Storage)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "invalid storage config", err)
	}
	if !live {
		return store.Open(ctx, input)
	}

	// Following a capture needs the growing file itself.
	resolver, ok := store.(storage.FileResolver)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "cannot follow %s: storage is not a local filesystem", input)
	}
	path, err := resolver.LocalPath(input)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "capture not found: %s", input)
		}
		return nil, err
	}
	return f, nil
}
