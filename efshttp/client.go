// Package efshttp implements the HTTP adapter the pull coordinator is
// built against: an outgoing connection with request/response framing
// and a readable streaming body, in the spirit of EFSPull.c's
// HTTPConnectionRef/HTTPMessageRef pair but expressed with net/http,
// the way pkg/client builds requests against a Camlistore server.
package efshttp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"
)

// Client is a connection to one peer host. It corresponds to
// HTTPConnectionCreateOutgoing(host): a single *http.Client configured
// for that host, reused across requests (net/http pools and reuses the
// underlying TCP connection for us).
type Client struct {
	host       string
	httpClient *http.Client
}

// NewClient creates a Client for host ("http://peer.example:8080" or
// "https://..."). insecureSkipVerify mirrors the --insecure knobs found
// throughout pkg/client for self-signed peers in development.
func NewClient(host string, insecureSkipVerify bool) *Client {
	tr := &http.Transport{}
	if insecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in dev knob
	}
	return &Client{
		host: host,
		httpClient: &http.Client{
			Transport: tr,
			Timeout:   0, // streaming bodies: no blanket deadline, see per-request context
		},
	}
}

// Close releases the client's idle connections. There is no
// per-Response Close beyond closing its Body; this just lets go of the
// pooled transport, at shutdown or after a failed request.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Do issues method against path on the client's host, with an optional
// session cookie, and returns the raw response. Callers are responsible
// for closing resp.Body (Response wraps that for them).
func (c *Client) Do(ctx context.Context, method, path, cookie string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.host+path, nil)
	if err != nil {
		return nil, fmt.Errorf("efshttp: new request: %w", err)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("efshttp: %s %s: %w", method, path, err)
	}
	return newResponse(resp), nil
}

// authTimeout bounds the short-lived, empty-body /auth round trip.
// Streaming requests (the listing GET, a file GET) are never given a
// deadline here — they live as long as the caller's own stop context,
// since a context deadline would sever an in-flight body read, not just
// the connection attempt.
const authTimeout = 30 * time.Second

// DoAuth is Do with a bounded context suited to the short /auth
// request/response round trip.
func (c *Client) DoAuth(method, path, cookie string) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	resp, err := c.Do(ctx, method, path, cookie)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.cancel = cancel
	return resp, nil
}
