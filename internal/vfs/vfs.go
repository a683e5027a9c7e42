// Package vfs is the byte-level filesystem contract the engine depends on.
//
// It intentionally exposes nothing richer than what the core needs: open,
// read, write-then-atomically-publish, swap two named directories, sync,
// delete-recursively and file-size. Two implementations are provided: a
// real on-disk one backed by safefile for atomic publication, and an
// in-memory one used by tests so the whole engine can be exercised without
// touching a disk.
package vfs

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/dchest/safefile"
	"github.com/pkg/errors"
)

// Reader is a handle to an existing file.
type Reader interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
	Size() (int64, error)
}

// Writer is a handle to a file being created. The write is not visible to
// Dir.OpenFile until Commit succeeds; Close without Commit discards it.
type Writer interface {
	io.Writer
	io.Closer
	Commit() error
}

// Dir is a directory-scoped view of the filesystem contract.
type Dir interface {
	// Path returns an implementation-defined identifier for the directory,
	// empty for non-path-backed implementations.
	Path() string

	OpenFile(name string) (Reader, error)
	CreateFile(name string) (Writer, error)
	RemoveFile(name string) error
	ListFiles() ([]string, error)

	// Sync durably persists directory entries written so far.
	Sync() error

	// DeleteRecursively removes the directory and everything under it.
	// The Dir must not be used afterwards.
	DeleteRecursively() error
}

var (
	ErrNotDirectory = errors.New("vfs: not a directory")
	ErrExist        = os.ErrExist
	ErrNotExist     = os.ErrNotExist
)

func IsExist(err error) bool    { return os.IsExist(errors.Cause(err)) }
func IsNotExist(err error) bool { return os.IsNotExist(errors.Cause(err)) }

// OpenDir opens a directory on the real filesystem, creating it if create is
// true and it does not exist.
func OpenDir(path string, create bool) (Dir, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "resolve absolute path")
	}

	stat, err := os.Stat(path)
	if err != nil {
		if create && os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0750); err != nil {
				return nil, errors.Wrap(err, "create directory")
			}
		} else {
			return nil, err
		}
	} else if !stat.IsDir() {
		return nil, ErrNotDirectory
	}

	return &fsDir{path: path}, nil
}

// SwapDirs atomically publishes newPath in place of oldPath: it renames
// oldPath to a backup location, renames newPath to oldPath, and removes the
// backup. If the process dies between the two renames, oldPath is absent
// and its old contents remain at oldPath+".swap_backup"; if it dies after
// the second rename, oldPath holds the new contents and the backup may be
// left behind. Nothing in this module removes such a leftover backup on a
// later start.
func SwapDirs(oldPath, newPath string) error {
	backup := oldPath + ".swap_backup"
	_ = os.RemoveAll(backup)

	if _, err := os.Stat(oldPath); err == nil {
		if err := os.Rename(oldPath, backup); err != nil {
			return errors.Wrap(err, "rename current directory aside")
		}
	}

	if err := os.Rename(newPath, oldPath); err != nil {
		return errors.Wrap(err, "rename new directory into place")
	}

	if err := os.RemoveAll(backup); err != nil {
		return errors.Wrap(err, "remove backup directory")
	}

	return nil
}

type fsDir struct {
	path string
}

func (d *fsDir) Path() string { return d.path }

func (d *fsDir) OpenFile(name string) (Reader, error) {
	f, err := os.Open(filepath.Join(d.path, name))
	if err != nil {
		return nil, err
	}
	return &fsReader{File: f}, nil
}

func (d *fsDir) CreateFile(name string) (Writer, error) {
	f, err := safefile.Create(filepath.Join(d.path, name), 0644)
	if err != nil {
		return nil, err
	}
	return &fsWriter{File: f}, nil
}

func (d *fsDir) RemoveFile(name string) error {
	err := os.Remove(filepath.Join(d.path, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *fsDir) ListFiles() ([]string, error) {
	infos, err := ioutil.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	return names, nil
}

func (d *fsDir) Sync() error {
	f, err := os.Open(d.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func (d *fsDir) DeleteRecursively() error {
	return os.RemoveAll(d.path)
}

type fsReader struct {
	*os.File
}

func (r *fsReader) Size() (int64, error) {
	info, err := r.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

type fsWriter struct {
	*safefile.File
}

// memDir is an in-memory Dir used by tests so engine-level behavior can be
// exercised without a real disk.
type memDir struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemDir creates a Dir backed entirely by memory.
func NewMemDir() Dir {
	return &memDir{entries: make(map[string][]byte)}
}

func (d *memDir) Path() string { return "" }

func (d *memDir) OpenFile(name string) (Reader, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.entries[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &memReader{Reader: bytes.NewReader(data), size: int64(len(data))}, nil
}

func (d *memDir) CreateFile(name string) (Writer, error) {
	return &memWriter{dir: d, name: name}, nil
}

func (d *memDir) RemoveFile(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, name)
	return nil
}

func (d *memDir) ListFiles() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	return names, nil
}

func (d *memDir) Sync() error { return nil }

func (d *memDir) DeleteRecursively() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string][]byte)
	return nil
}

type memReader struct {
	*bytes.Reader
	size int64
}

func (r *memReader) Close() error          { return nil }
func (r *memReader) Size() (int64, error)  { return r.size, nil }

type memWriter struct {
	bytes.Buffer
	dir  *memDir
	name string
}

func (w *memWriter) Commit() error {
	data := make([]byte, w.Len())
	copy(data, w.Bytes())
	w.dir.mu.Lock()
	w.dir.entries[w.name] = data
	w.dir.mu.Unlock()
	return nil
}

func (w *memWriter) Close() error { return nil }

// WriteFile is a convenience for the common create/write/commit sequence.
func WriteFile(dir Dir, name string, write func(w io.Writer) error) error {
	file, err := dir.CreateFile(name)
	if err != nil {
		return errors.Wrap(err, "create failed")
	}
	defer file.Close()

	if err := write(file); err != nil {
		return errors.Wrap(err, "write failed")
	}

	if err := file.Commit(); err != nil {
		return errors.Wrap(err, "commit failed")
	}

	return nil
}

// ReadFile reads an entire file into memory.
func ReadFile(dir Dir, name string) ([]byte, error) {
	f, err := dir.OpenFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ioutil.ReadAll(f)
}
