// Package walk provides iterators over regular files in a filesystem tree.
package walk

import (
	"context"
	"io/fs"
	"iter"
	"path/filepath"
	"time"
)

// Entry is one regular file found during a walk.
type Entry struct {
	// Path is the file path prefixed with the walked root's name.
	Path string
	// Info is the file's FileInfo. It is nil when the walk yielded an error
	// for this entry.
	Info fs.FileInfo
}

// FS recursively walks the filesystem rooted at root and yields every regular
// file found, or an error if file information retrieval fails. Each Entry's
// Path is prefixed with name. It does not follow symlinks.
func FS(ctx context.Context, root fs.FS, name string) iter.Seq2[Entry, error] {
	if root == nil {
		panic("root is nil")
	}

	return func(yield func(Entry, error) bool) {
		fn := func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			entry := Entry{Path: filepath.Join(name, path)}
			if err == nil {
				info, infoErr := d.Info()
				switch {
				case infoErr != nil:
					err = infoErr
				case !info.Mode().IsRegular():
					return nil
				default:
					entry.Info = info
				}
			}
			if !yield(entry, err) {
				return fs.SkipAll
			}
			return nil
		}
		_ = fs.WalkDir(root, ".", fn)
	}
}

// OlderThan narrows FS down to files whose modification time is before
// cutoff. Walk errors are passed through so callers can report them.
func OlderThan(ctx context.Context, root fs.FS, name string, cutoff time.Time) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for entry, err := range FS(ctx, root, name) {
			if err == nil && !entry.Info.ModTime().Before(cutoff) {
				continue
			}
			if !yield(entry, err) {
				return
			}
		}
	}
}
