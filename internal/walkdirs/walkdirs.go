// Package walkdirs walks directory trees with concurrent directory reads.
// The cloud storage engine uses it to scan storage roots for object
// declarations, where serial ReadDir round-trips would dominate.
package walkdirs

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"runtime"
)

// FS is the subset of the backend abstraction the walker needs.
type FS interface {
	ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error)
}

// SkipFunc reports whether a directory should be skipped entirely.
type SkipFunc func(dir string) bool

// ErrSkipDirs can be returned by a WalkDirsFunc to prevent WalkDirs from
// descending into the directory's subdirectories.
var ErrSkipDirs = errors.New("skip subdirectories")

// WalkDirsFunc is called for each directory. If it returns ErrSkipDirs, the
// directory's subdirectories are not walked.
type WalkDirsFunc func(name string, entries []fs.DirEntry, err error) error

// WalkDirs walks the FS starting at dir, calling fn for each directory.
// Directory entries are read in up to gos concurrent goroutines (default
// runtime.NumCPU()); every call to fn happens on the calling goroutine. The
// tree is walked depth-first, in lexical order when gos is 1. An error from
// fn (other than ErrSkipDirs) cancels the walk and is returned.
func WalkDirs(ctx context.Context, fsys FS, dir string, skipfn SkipFunc, fn WalkDirsFunc, gos int) error {
	if gos < 1 {
		gos = runtime.NumCPU()
	}
	readDirTask := func(dir string) ([]fs.DirEntry, error) {
		return fsys.ReadDir(ctx, dir)
	}
	var walkErr error
	// called serially for each completed readdir; returns subdirectories to
	// walk next
	walkMgr := func(dir string, entries []fs.DirEntry, err error) ([]string, bool) {
		if fnErr := fn(dir, entries, err); fnErr != nil {
			if errors.Is(fnErr, ErrSkipDirs) {
				return nil, true
			}
			walkErr = fnErr
			return nil, false
		}
		var subDirs []string
		// reverse order so the LIFO task queue yields lexical order
		for i := len(entries); i > 0; i-- {
			e := entries[i-1]
			if !e.IsDir() {
				continue
			}
			subdir := path.Join(dir, e.Name())
			if skipfn != nil && skipfn(subdir) {
				continue
			}
			subDirs = append(subDirs, subdir)
		}
		return subDirs, true
	}
	doTailingTasks(gos, readDirTask, walkMgr, dir)
	return walkErr
}
