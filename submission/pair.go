package submission

import (
	"fmt"
	"strings"

	"github.com/aqnotecom/earthfs/metafile"
	"github.com/aqnotecom/earthfs/repo"
)

// CreateMeta builds the companion meta-submission for an already-Ended
// primary submission: a text/uri-list document whose body is the
// primary's preferred URI followed by every target link its meta-parser
// found. This is the Go equivalent of the original's
// EFSSubmissionCreatePair, split into two steps because Go's Submission
// can only synthesize the meta body once the primary has been hashed
// (see SPEC_FULL.md §4).
func CreateMeta(r *repo.Repo, primary *Submission) (*Submission, error) {
	if primary.state != Ended && primary.state != Stored {
		return nil, ErrInvalidState
	}
	meta, err := Create(r, metafile.URIListType)
	if err != nil {
		return nil, fmt.Errorf("submission: create meta: %w", err)
	}

	var body strings.Builder
	body.WriteString(primary.PrimaryURI())
	body.WriteByte('\n')
	for _, target := range primary.links.Targets {
		body.WriteString(target)
		body.WriteByte('\n')
	}

	if err := meta.Write([]byte(body.String())); err != nil {
		meta.Free()
		return nil, err
	}
	if err := meta.End(); err != nil {
		meta.Free()
		return nil, err
	}
	return meta, nil
}
