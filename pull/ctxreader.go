package pull

import (
	"context"
	"io"
)

// ctxReader wraps an io.Reader so a Read in progress observes context
// cancellation between chunks, letting a stop request interrupt a
// stalled or slow file download instead of waiting for the underlying
// socket to time out on its own.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func newCtxReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
