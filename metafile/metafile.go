// Package metafile implements the meta-file parser contract: it scans
// the indexable prefix of a submission's bytes for inter-document links
// and, at store time, emits the link rows the relational schema expects.
//
// The parser dispatched for a MIME type is deliberately the same kind of
// object for every submission (mirroring the original EFSMetaFileCreate,
// which is unconditionally attached to every EFSSubmission regardless of
// type): a "text/uri-list" submission gets the exact list parser: the
// rest get the best-effort generic scanner.
package metafile

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/aqnotecom/earthfs/hash"
)

// DefaultPrefixSize is the indexable prefix cutoff: bytes beyond this
// point are hashed but never scanned for links. 100 KiB, per the
// original C implementation's constant.
const DefaultPrefixSize = 100 * 1024

// URIListType is the MIME type synthesized for a pull's companion
// meta-submission: a newline-separated list of URIs (RFC 2483), first
// line the source, remaining lines the targets.
const URIListType = "text/uri-list"

// uriPattern matches a bare "<algo>:<hex>" token anywhere in a byte
// stream, the way pkg/client/get.go's blobsRx scans schema blobs for
// embedded blobrefs during share-chain discovery.
var uriPattern = regexp.MustCompile(`\b[a-z][a-z0-9]{0,30}:[0-9a-f]{2,255}\b`)

// Links is the result of parsing a submission's meta content: a source
// URI (the document the links are "from") and the targets found.
type Links struct {
	Source  string
	Targets []string
}

// Parser consumes bytes (up to DefaultPrefixSize of them) during a
// submission's Write loop and, on End, reports whatever links it found.
// HasMore reports whether the underlying byte stream continued past the
// indexable prefix — downstream code must tolerate a partial Targets
// list in that case, per spec.md's open question on the prefix cutoff.
type Parser interface {
	Write(p []byte)
	End() (links Links, hasMore bool)
}

// ForType returns the parser appropriate for a submission's declared
// MIME type. Every submission gets one, whether or not it ultimately
// finds any links, matching the original's unconditional
// EFSMetaFileCreate(sub->type) call.
func ForType(mimeType string) Parser {
	if strings.EqualFold(baseType(mimeType), URIListType) {
		return &uriListParser{}
	}
	return &genericScanner{}
}

func baseType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.TrimSpace(mimeType)
}

// uriListParser implements the text/uri-list format exactly: the first
// non-empty line is the source URI, every subsequent non-empty,
// non-comment line is a target. Comment lines (RFC 2483 "#...") are
// skipped.
type uriListParser struct {
	buf   strings.Builder
	bytes int
}

func (p *uriListParser) Write(b []byte) {
	if p.bytes >= DefaultPrefixSize {
		p.bytes += len(b)
		return
	}
	n := len(b)
	if p.bytes+n > DefaultPrefixSize {
		n = DefaultPrefixSize - p.bytes
	}
	p.buf.Write(b[:n])
	p.bytes += len(b)
}

func (p *uriListParser) End() (Links, bool) {
	var links Links
	sc := bufio.NewScanner(strings.NewReader(p.buf.String()))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if links.Source == "" {
			links.Source = line
			continue
		}
		links.Targets = append(links.Targets, line)
	}
	return links, p.bytes > DefaultPrefixSize
}

// genericScanner is the fallback meta-parser for MIME types with no
// structured link format: it scans the indexable prefix for bare
// "<algo>:<hex>" tokens and reports every match as a target. The
// submission's own preferred URI becomes the source at store time (see
// submission.Submission.Store), since a generic document has no
// self-declared source line.
type genericScanner struct {
	buf   strings.Builder
	bytes int
}

func (s *genericScanner) Write(b []byte) {
	if s.bytes >= DefaultPrefixSize {
		s.bytes += len(b)
		return
	}
	n := len(b)
	if s.bytes+n > DefaultPrefixSize {
		n = DefaultPrefixSize - s.bytes
	}
	s.buf.Write(b[:n])
	s.bytes += len(b)
}

func (s *genericScanner) End() (Links, bool) {
	var links Links
	seen := make(map[string]bool)
	for _, tok := range uriPattern.FindAllString(s.buf.String(), -1) {
		if _, ok := hash.Parse(tok); !ok {
			continue
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		links.Targets = append(links.Targets, tok)
	}
	return links, s.bytes > DefaultPrefixSize
}
