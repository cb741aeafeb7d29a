// Package submission implements the streaming, content-addressed
// ingestion path: write bytes to a temp file while hashing and
// meta-parsing, then transactionally commit into the repo's relational
// schema. It is the Go counterpart of EFSSubmission.c.
package submission

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aqnotecom/earthfs/hash"
	"github.com/aqnotecom/earthfs/metafile"
	"github.com/aqnotecom/earthfs/repo"
)

// ErrInvalidState is returned when an operation is attempted in a
// lifecycle stage that doesn't allow it.
var ErrInvalidState = errors.New("submission: invalid state")

// Submission represents one pending import: an owning repo, a declared
// MIME type, a temp file being written, a streaming hasher and
// meta-parser, and — once Ended — the computed URI set and internal
// hash.
type Submission struct {
	repo *repo.Repo
	typ  string

	tmpPath string
	tmpFile *os.File
	size    int64

	hasher *hash.Hasher
	meta   metafile.Parser

	state State

	uris         []hash.URI
	internalHash string
	links        metafile.Links
	hasMoreLinks bool

	// linked marks that the content-addressed hard link step of Store
	// has already run, so a Store retried after a rolled-back savepoint
	// (the DB half failed, not the filesystem half) doesn't try to
	// re-link from a temp path it already removed.
	linked bool
}

// Create allocates a unique temp path under repo's tmp/ directory,
// creates the parent directory (0700) and the file exclusively (0400),
// and attaches a hasher and meta-parser selected for typ.
func Create(r *repo.Repo, typ string) (*Submission, error) {
	if typ == "" {
		return nil, errors.New("submission: type required")
	}
	tmpPath, err := randomTempPath(r.TempPath())
	if err != nil {
		return nil, fmt.Errorf("submission: temp path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0700); err != nil {
		return nil, fmt.Errorf("submission: mkdirp %s: %w", filepath.Dir(tmpPath), err)
	}
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_TRUNC|os.O_WRONLY, 0400)
	if err != nil {
		return nil, fmt.Errorf("submission: create %s: %w", tmpPath, err)
	}
	return &Submission{
		repo:    r,
		typ:     typ,
		tmpPath: tmpPath,
		tmpFile: f,
		hasher:  hash.New(typ),
		meta:    metafile.ForType(typ),
		state:   Open,
	}, nil
}

// randomTempPath picks a cryptographically random name under dir,
// avoiding both collisions between concurrent readers and the
// hard-coded "/tmp/efs-tmp" literal the original implementation used in
// one variant (see spec.md's design notes).
func randomTempPath(dir string) (string, error) {
	var buf [16]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return "", err
	}
	return filepath.Join(dir, hex.EncodeToString(buf[:])), nil
}

// Write appends buf to the temp file at the current size offset,
// feeding it to the hasher and meta-parser. Must be called only while
// Open or Writing.
func (s *Submission) Write(buf []byte) error {
	if s.state != Open && s.state != Writing {
		return ErrInvalidState
	}
	if s.tmpFile == nil {
		return ErrInvalidState
	}
	n, err := s.tmpFile.WriteAt(buf, s.size)
	if err != nil {
		return fmt.Errorf("submission: write: %w", err)
	}
	s.size += int64(n)
	s.hasher.Write(buf)
	s.meta.Write(buf)
	s.state = Writing
	return nil
}

// WriteFrom loops reading from r until EOF, writing each chunk, then
// calls End. It is the Go equivalent of EFSSubmissionWriteFrom's
// read-function loop (0 length means EOF, error propagates).
func (s *Submission) WriteFrom(r io.Reader) error {
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := s.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("submission: read: %w", err)
		}
	}
	return s.End()
}

// End finalizes the hasher into a URI set and internal hash, finalizes
// the meta-parser, and closes the temp file descriptor. Idempotent:
// calling End twice is a no-op error, not a crash.
func (s *Submission) End() error {
	if s.state == Ended || s.state == Stored || s.state == Released {
		return ErrInvalidState
	}
	s.uris, s.internalHash = s.hasher.End()
	s.links, s.hasMoreLinks = s.meta.End()
	if s.tmpFile != nil {
		if err := s.tmpFile.Close(); err != nil {
			return fmt.Errorf("submission: close: %w", err)
		}
		s.tmpFile = nil
	}
	s.state = Ended
	return nil
}

// PrimaryURI returns the submission's preferred URI (its canonical
// internal-hash URI, slot 0 of the set computed by End), or "" before
// End has run.
func (s *Submission) PrimaryURI() string {
	if len(s.uris) == 0 {
		return ""
	}
	return s.uris[0].String()
}

// HasMoreLinks reports whether the byte stream continued past the
// meta-parser's indexable prefix, meaning Links() may be incomplete.
func (s *Submission) HasMoreLinks() bool { return s.hasMoreLinks }

// Size returns the number of bytes written so far.
func (s *Submission) Size() int64 { return s.size }

// Type returns the submission's declared MIME type.
func (s *Submission) Type() string { return s.typ }

// Free releases the submission: if the temp path still exists (it was
// never Stored), it is unlinked. Safe to call multiple times.
func (s *Submission) Free() {
	if s.tmpFile != nil {
		s.tmpFile.Close()
		s.tmpFile = nil
	}
	if s.tmpPath != "" {
		os.Remove(s.tmpPath)
		s.tmpPath = ""
	}
	s.state = Released
}

// Store runs the store algorithm from spec.md §4.A within a
// caller-managed savepoint on db: link the temp file into the
// content-addressed tree (deduping on already-exists), then insert the
// files/uris/file_uris/file_permissions/links rows. db must be a single
// dedicated connection (no other goroutine may use it concurrently);
// the caller is expected to have already issued SAVEPOINT/BEGIN.
//
// Store is safe to retry: a batch committed together under one
// savepoint can fail partway through, after earlier submissions in the
// same batch already ran their Store and flipped to Stored; when the
// caller rolls back and retries the whole batch, those earlier
// submissions must be able to run Store again. The hard link (already
// on disk, outside the transaction) is skipped the second time via
// linked; the row inserts are themselves idempotent (INSERT OR IGNORE),
// so re-running them against a rolled-back database is just as safe as
// running them the first time.
func (s *Submission) Store(db *sql.DB, userID int64) error {
	if s.state != Ended && s.state != Stored {
		return ErrInvalidState
	}

	if !s.linked {
		internalPath := s.repo.InternalPath(s.internalHash)
		if err := os.MkdirAll(filepath.Dir(internalPath), 0700); err != nil {
			return fmt.Errorf("submission: mkdirp %s: %w", filepath.Dir(internalPath), err)
		}
		if err := os.Link(s.tmpPath, internalPath); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("submission: link %s -> %s: %w", s.tmpPath, internalPath, err)
		}
		os.Remove(s.tmpPath)
		s.tmpPath = ""
		s.linked = true
	}

	fileID, err := s.storeFileRow(db, userID)
	if err != nil {
		return err
	}
	if err := s.storeLinkRows(db, fileID); err != nil {
		return err
	}

	s.state = Stored
	return nil
}

func (s *Submission) storeFileRow(db *sql.DB, userID int64) (int64, error) {
	if _, err := db.Exec(
		`INSERT OR IGNORE INTO files (internal_hash, file_type, file_size) VALUES (?, ?, ?)`,
		s.internalHash, s.typ, s.size,
	); err != nil {
		return 0, fmt.Errorf("submission: insert files: %w", err)
	}

	var fileID int64
	// Can't rely on last_insert_rowid(): it's 0 when the row already
	// existed (spec.md §4.A step 6).
	if err := db.QueryRow(
		`SELECT file_id FROM files WHERE internal_hash = ? AND file_type = ?`,
		s.internalHash, s.typ,
	).Scan(&fileID); err != nil {
		return 0, fmt.Errorf("submission: select file_id: %w", err)
	}

	for _, u := range s.uris {
		uri := u.String()
		if _, err := db.Exec(`INSERT OR IGNORE INTO uris (uri) VALUES (?)`, uri); err != nil {
			return 0, fmt.Errorf("submission: insert uri: %w", err)
		}
		if _, err := db.Exec(
			`INSERT OR IGNORE INTO file_uris (file_id, uri_id)
			 SELECT ?, uri_id FROM uris WHERE uri = ? LIMIT 1`,
			fileID, uri,
		); err != nil {
			return 0, fmt.Errorf("submission: insert file_uris: %w", err)
		}
	}

	if _, err := db.Exec(
		`INSERT OR IGNORE INTO file_permissions (file_id, user_id, meta_file_id) VALUES (?, ?, ?)`,
		fileID, userID, fileID,
	); err != nil {
		return 0, fmt.Errorf("submission: insert file_permissions: %w", err)
	}

	return fileID, nil
}

// storeLinkRows emits (source_uri_id, target_uri_id, meta_file_id) rows
// for whatever the meta-parser found, keyed by this submission's own
// file_id — symmetric for both a plain file and its text/uri-list
// meta-submission companion, per the original's unconditional
// EFSMetaFileStore call (see SPEC_FULL.md §4).
func (s *Submission) storeLinkRows(db *sql.DB, fileID int64) error {
	if len(s.links.Targets) == 0 {
		return nil
	}
	source := s.links.Source
	if source == "" {
		source = s.PrimaryURI()
	}
	sourceID, err := upsertURI(db, source)
	if err != nil {
		return fmt.Errorf("submission: upsert link source: %w", err)
	}
	for _, target := range s.links.Targets {
		targetID, err := upsertURI(db, target)
		if err != nil {
			return fmt.Errorf("submission: upsert link target: %w", err)
		}
		if _, err := db.Exec(
			`INSERT OR IGNORE INTO links (source_uri_id, target_uri_id, meta_file_id) VALUES (?, ?, ?)`,
			sourceID, targetID, fileID,
		); err != nil {
			return fmt.Errorf("submission: insert link: %w", err)
		}
	}
	return nil
}

func upsertURI(db *sql.DB, uri string) (int64, error) {
	if _, err := db.Exec(`INSERT OR IGNORE INTO uris (uri) VALUES (?)`, uri); err != nil {
		return 0, err
	}
	var id int64
	err := db.QueryRow(`SELECT uri_id FROM uris WHERE uri = ?`, uri).Scan(&id)
	return id, err
}
