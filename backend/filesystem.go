package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tempPrefix = ".tmp-"

// Filesystem implements WriterBackend on the local filesystem.
// Writes are atomic using a temp file and rename.
type Filesystem struct {
	root   string
	noSync bool
}

// FilesystemOption configures a Filesystem.
type FilesystemOption func(*Filesystem)

// WithNoSync skips fsync before rename. Only for tests.
func WithNoSync() FilesystemOption {
	return func(f *Filesystem) {
		f.noSync = true
	}
}

// NewFilesystem creates a filesystem backend rooted at root, creating the
// directory if needed.
func NewFilesystem(root string, opts ...FilesystemOption) (*Filesystem, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	f := &Filesystem{root: absRoot}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the root directory path.
func (f *Filesystem) Root() string {
	return f.root
}

// Write stores data at key using an atomic write.
func (f *Filesystem) Write(ctx context.Context, key string, r io.Reader) error {
	w, err := f.Writer(ctx, key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = Abort(w)
		return fmt.Errorf("writing data: %w", err)
	}
	return w.Close()
}

// Read opens the data at key.
func (f *Filesystem) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(f.keyToPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return file, nil
}

// Delete removes the data at key.
func (f *Filesystem) Delete(ctx context.Context, key string) error {
	err := os.Remove(f.keyToPath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// DeletePrefix removes the directory tree for prefix.
func (f *Filesystem) DeletePrefix(ctx context.Context, prefix string) error {
	path := f.keyToPath(prefix)
	if path == f.root {
		return fmt.Errorf("refusing to delete backend root")
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", prefix, err)
	}
	return nil
}

// Exists checks if a key exists.
func (f *Filesystem) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(f.keyToPath(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking file: %w", err)
}

// List returns all keys under prefix, skipping in-flight temp files.
func (f *Filesystem) List(ctx context.Context, prefix string) ([]string, error) {
	dir := f.keyToPath(prefix)

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return []string{prefix}, nil
	}

	var keys []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A resource doomed mid-walk disappears; that is not an error.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return keys, nil
}

// Size returns the stored size of the data at key.
func (f *Filesystem) Size(ctx context.Context, key string) (int64, error) {
	info, err := os.Stat(f.keyToPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("stat file: %w", err)
	}
	return info.Size(), nil
}

// Writer returns an atomic writer for key. Data is written to a temp file
// and renamed into place on Close.
func (f *Filesystem) Writer(ctx context.Context, key string) (io.WriteCloser, error) {
	path := f.keyToPath(key)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	return &atomicWriter{
		f:       tmp,
		tmpPath: tmp.Name(),
		dstPath: path,
		noSync:  f.noSync,
	}, nil
}

func (f *Filesystem) keyToPath(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

type atomicWriter struct {
	f       *os.File
	tmpPath string
	dstPath string
	noSync  bool
	closed  bool
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Close commits the write by renaming the temp file.
func (w *atomicWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if !w.noSync {
		if err := w.f.Sync(); err != nil {
			_ = w.f.Close()
			_ = os.Remove(w.tmpPath)
			return fmt.Errorf("syncing file: %w", err)
		}
	}

	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(w.tmpPath, w.dstPath); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Abort discards the write.
func (w *atomicWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.f.Close()
	return os.Remove(w.tmpPath)
}

var (
	_ WriterBackend = (*Filesystem)(nil)
	_ Aborter       = (*atomicWriter)(nil)
)
