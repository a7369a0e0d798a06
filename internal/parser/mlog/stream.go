package mlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	apperrors "github.com/heapshot-analysis/pkg/errors"
	"github.com/heapshot-analysis/pkg/utils"
)

// errDrained reports a clean end of input at a buffer boundary.
var errDrained = errors.New("mlog: stream drained")

// maxZeroReads bounds consecutive (0, nil) reads in non-live mode.
const maxZeroReads = 100

// streamCursor owns the input stream. In live mode a short read is not an
// error: the cursor waits and retries until the bytes show up or the context
// is canceled.
type streamCursor struct {
	src      io.Reader
	live     bool
	interval time.Duration
	clock    utils.Clock
	logger   utils.Logger

	offset int64
	waits  int64
}

// readFull fills buf. When boundary is set and no byte at all is available at
// end of input, errDrained is returned instead of a truncation error.
func (c *streamCursor) readFull(ctx context.Context, buf []byte, boundary bool) error {
	got := 0
	zero := 0
	for got < len(buf) {
		n, err := c.src.Read(buf[got:])
		got += n
		c.offset += int64(n)
		if got == len(buf) {
			return nil
		}
		if n > 0 {
			zero = 0
		}

		switch {
		case err == nil && n > 0:
			continue
		case err == nil:
			zero++
			if !c.live && zero < maxZeroReads {
				continue
			}
			if !c.live {
				return fmt.Errorf("reading stream at offset %d: %w", c.offset, io.ErrNoProgress)
			}
		case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
			if !c.live {
				if boundary && got == 0 {
					return errDrained
				}
				return apperrors.Newf(apperrors.CodeTruncatedStream,
					"need %d bytes at offset %d, stream ended after %d", len(buf), c.offset-int64(got), got)
			}
		default:
			return fmt.Errorf("reading stream at offset %d: %w", c.offset, err)
		}

		if err := c.wait(ctx, len(buf)-got); err != nil {
			return err
		}
	}
	return nil
}

// wait sleeps one live interval, honoring cancellation before and during the sleep.
func (c *streamCursor) wait(ctx context.Context, missing int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.waits++
	c.logger.Debug("waiting for %d more bytes at offset %d", missing, c.offset)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(c.interval):
		return nil
	}
}
