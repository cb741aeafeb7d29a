// Package repo implements the EarthFS repository's filesystem layout
// and relational-store connection factory, the Go analogue of EFSRepo.c
// and camlistore's pkg/sorted/sqlite connection setup.
package repo

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go driver; registers "sqlite"
)

// Repo is a pure value holder for a repository's root path and its
// derived paths, plus a connection factory. It owns no open resources.
type Repo struct {
	path string
}

// New returns a Repo rooted at path. It does not touch the filesystem;
// call Init to create the directory layout.
func New(path string) *Repo {
	return &Repo{path: path}
}

// Path returns the repository root.
func (r *Repo) Path() string { return r.path }

// DataPath returns the root of the content-addressed blob tree.
func (r *Repo) DataPath() string { return filepath.Join(r.path, "data") }

// TempPath returns the staging directory for in-progress submissions.
func (r *Repo) TempPath() string { return filepath.Join(r.path, "tmp") }

// CachePath returns the repo's scratch cache directory.
func (r *Repo) CachePath() string { return filepath.Join(r.path, "cache") }

// DBPath returns the path of the embedded relational store file.
func (r *Repo) DBPath() string { return filepath.Join(r.path, "efs.db") }

// InternalPath returns the content-addressed location of a blob given
// its internal hash: data/<first-2-chars-of-H>/<H>.
func (r *Repo) InternalPath(internalHash string) string {
	prefix := internalHash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(r.DataPath(), prefix, internalHash)
}

// Init creates the repo's directory layout (0700) and bootstraps a
// fresh relational store if one doesn't exist yet.
func (r *Repo) Init() error {
	for _, dir := range []string{r.path, r.DataPath(), r.TempPath(), r.CachePath()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("repo: mkdir %s: %w", dir, err)
		}
	}
	if _, err := os.Stat(r.DBPath()); os.IsNotExist(err) {
		if err := initSchema(r.DBPath()); err != nil {
			return fmt.Errorf("repo: init schema: %w", err)
		}
	} else if err != nil {
		return err
	}
	return nil
}

// Connect opens a connection to the embedded store in read/write mode.
// No connection pooling is performed: callers connect per transaction
// and Close when done, matching EFSRepoDBConnect/EFSRepoDBClose.
func (r *Repo) Connect() (*sql.DB, error) {
	db, err := sql.Open("sqlite", r.DBPath())
	if err != nil {
		return nil, fmt.Errorf("repo: open %s: %w", r.DBPath(), err)
	}
	// Single connection: the store itself serializes readers against a
	// writer, and callers already guarantee single-threaded access per
	// connection (see spec.md §4.B).
	db.SetMaxOpenConns(1)
	return db, nil
}

// Close finalizes a connection opened by Connect.
func (r *Repo) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
