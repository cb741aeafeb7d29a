package pull

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
)

// nextURI returns the next listing line, reconnecting (with the
// standard backoff) as many times as it takes. Only the connection
// mutex is held across the reconnect attempts, so readers serialize on
// the shared listing socket without holding it during the slow work of
// importing a file — matching the "readers hold the listing mutex only
// while reading one URI line" rule from spec.md's concurrency model.
func (c *Coordinator) nextURI(ctx context.Context) (string, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	for {
		if c.listingResp == nil {
			if err := c.reconnectLocked(ctx); err != nil {
				return "", err
			}
		}
		line, err := c.listingResp.ReadLine(URIMax)
		if err == nil {
			return line, nil
		}
		c.listingResp.Close()
		c.listingResp = nil
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Fall through and reconnect; the backoff lives inside
		// reconnectLocked so every failed attempt waits before retrying.
	}
}

// reconnectLocked retries the listing GET until it succeeds or ctx is
// done. Callers must hold connMu. A 403 triggers a single re-auth
// attempt before the retry continues; any other non-2xx or transport
// error just backs off and tries again.
func (c *Coordinator) reconnectLocked(ctx context.Context) error {
	for {
		resp, err := c.client.Do(ctx, http.MethodGet, c.cfg.listingPath(), c.currentCookie())
		if err == nil {
			switch {
			case resp.StatusCode() == http.StatusForbidden:
				resp.Close()
				if authErr := c.auth(); authErr != nil {
					// Re-auth failing is itself just another transient
					// condition: fall into the shared backoff below.
					log.Printf("pull: re-auth after 403: %v", authErr)
				}
			case resp.StatusCode() < 200 || resp.StatusCode() >= 300:
				resp.Close()
				log.Printf("pull: reconnect: peer returned %d", resp.StatusCode())
			default:
				c.listingResp = resp
				return nil
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Printf("pull: reconnect: %v", err)
		}
		if !sleepCtx(ctx, Backoff) {
			return ctx.Err()
		}
	}
}

// auth exchanges the configured credentials for a session cookie via a
// single POST /auth request, caching the cookie on the coordinator for
// every subsequent request.
func (c *Coordinator) auth() error {
	path := "/auth?username=" + url.QueryEscape(c.cfg.Username) +
		"&password=" + url.QueryEscape(c.cfg.Password)
	resp, err := c.client.DoAuth(http.MethodPost, path, c.currentCookie())
	if err != nil {
		return fmt.Errorf("pull: auth: %w", err)
	}
	defer resp.Close()
	resp.Drain()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("pull: auth: peer returned %d", resp.StatusCode())
	}
	cookie := resp.ExtractHeaders().SetCookie
	if cookie == "" {
		return fmt.Errorf("pull: auth: no Set-Cookie in response")
	}
	c.setCookie(cookie)
	return nil
}
