package pull

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aqnotecom/earthfs/efshttp"
	"github.com/aqnotecom/earthfs/hash"
	"github.com/aqnotecom/earthfs/submission"
)

// importURI fetches one URI from the peer over client (a connection
// cached and reused across a single reader's iterations), builds the
// submission pair, and enqueues both halves for the writer. A URI this
// binary can't parse is enqueued as two nil entries, exactly like the
// original's "bad line" path: it still counts against the batch so the
// writer isn't left waiting forever on a line that will never resolve.
func (c *Coordinator) importURI(ctx context.Context, client *efshttp.Client, uri string) error {
	u, ok := hash.Parse(uri)
	if !ok {
		return c.enqueuePair(ctx, nil, nil)
	}

	resp, err := client.Do(ctx, http.MethodGet, "/file/"+u.Algo+"/"+u.Hex, c.currentCookie())
	if err != nil {
		client.Close()
		return fmt.Errorf("pull: fetch %s: %w", uri, err)
	}
	defer resp.Close()

	if resp.StatusCode() == http.StatusNotFound {
		resp.Drain()
		return c.enqueuePair(ctx, nil, nil)
	}
	if resp.StatusCode() == http.StatusForbidden {
		resp.Drain()
		if authErr := c.auth(); authErr != nil {
			return fmt.Errorf("pull: fetch %s: 403, re-auth failed: %w", uri, authErr)
		}
		return fmt.Errorf("pull: fetch %s: 403, re-authenticated, retrying", uri)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		resp.Drain()
		return fmt.Errorf("pull: fetch %s: peer returned %d", uri, resp.StatusCode())
	}

	contentType := resp.ExtractHeaders().ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	primary, err := submission.Create(c.repo, contentType)
	if err != nil {
		return fmt.Errorf("pull: create submission for %s: %w", uri, err)
	}

	if err := primary.WriteFrom(newCtxReader(ctx, resp.Body())); err != nil {
		primary.Free()
		if ctx.Err() != nil {
			// Shutdown mid-stream: drop the partial work rather than
			// retrying a stream that will never resume.
			return nil
		}
		return fmt.Errorf("pull: stream %s: %w", uri, err)
	}

	meta, err := submission.CreateMeta(c.repo, primary)
	if err != nil {
		primary.Free()
		return fmt.Errorf("pull: build meta for %s: %w", uri, err)
	}

	return c.enqueuePair(ctx, primary, meta)
}

// enqueuePair sends both halves of a pair into the writer's channel,
// blocking (the pipeline's only backpressure point) if it's full.
func (c *Coordinator) enqueuePair(ctx context.Context, primary, meta *submission.Submission) error {
	for _, sub := range []*submission.Submission{primary, meta} {
		select {
		case c.entries <- entry{sub: sub}:
		case <-ctx.Done():
			if sub != nil {
				sub.Free()
			}
			return ctx.Err()
		}
	}
	return nil
}
