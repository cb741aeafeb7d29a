// Package pull implements the pull coordinator: it drives a bounded set
// of reader goroutines over one peer's URI listing and a single writer
// goroutine that commits completed submissions into the repo, the Go
// counterpart of EFSPull.c's cothread-scheduled batch pipeline.
package pull

import (
	"net/url"
	"time"
)

// ReaderCount is the number of concurrent readers pulling file bodies,
// fixed at EFS_PULL_READER_COUNT's original value.
const ReaderCount = 4

// BatchSize is the largest number of submission slots (file + meta
// pairs) the writer commits together, mirroring EFS_PULL_BATCH_SIZE. The
// writer does not wait for a full batch: it commits whatever is buffered.
const BatchSize = 10

// Backoff is the delay before retrying after a transient failure:
// a failed reconnect, a failed file fetch, or a failed store commit.
const Backoff = 5 * time.Second

// URIMax bounds a single listing line, so a misbehaving or malicious
// peer can't make a reader buffer an unbounded line forever.
const URIMax = 1024

// Config describes one peer to pull from and the credentials to use
// against it.
type Config struct {
	// Host is the peer's base URL, e.g. "https://peer.example:8443".
	Host string

	// Username and Password authenticate the initial /auth request.
	// Cookie, once obtained, is cached and reused until a 403 forces
	// re-authentication.
	Username string
	Password string

	// UserID is the local account the pulled files are attributed to
	// (stored in file_permissions).
	UserID int64

	// Query is an optional server-side filter appended to the listing
	// request. It is only sent when SendQuery is true: per spec.md's
	// open question, the default is to pull everything the peer will
	// list rather than silently narrowing it.
	Query     string
	SendQuery bool

	// InsecureSkipVerify disables TLS certificate verification, for
	// pulling from a peer with a self-signed certificate in development.
	InsecureSkipVerify bool
}

// listingPath builds the long-lived listing request path.
func (c Config) listingPath() string {
	path := "/query?count=all"
	if c.SendQuery && c.Query != "" {
		path += "&query=" + url.QueryEscape(c.Query)
	}
	return path
}
