package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ridge/ddp/tlog"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

// File is a Storage backed by one JSON object in a file.
//
// Every Set and Remove rewrites the file atomically. Values must be valid
// JSON. Run keeps the in-memory copy in sync with other processes writing
// the same file.
type File struct {
	path string

	mu     sync.Mutex
	values map[string]json.RawMessage
}

// NewFile opens a file storage, loading the file if it exists
func NewFile(path string) (*File, error) {
	f := &File{path: path}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the path of the backing file
func (f *File) Path() string {
	return f.path
}

func (f *File) load() error {
	values := map[string]json.RawMessage{}
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read %s: %w", f.path, err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("failed to parse %s: %w", f.path, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = values
	return nil
}

// mutex must be held when calling
func (f *File) save() error {
	data, err := json.Marshal(f.values)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", f.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", f.path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", f.path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", f.path, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to write %s: %w", f.path, err)
	}
	return nil
}

// Get implements Storage
func (f *File) Get(key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set implements Storage
func (f *File) Set(key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("value for %q is not valid JSON", key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.values[key] = append(json.RawMessage(nil), value...)
	return f.save()
}

// Remove implements Storage
func (f *File) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.values[key]; !ok {
		return nil
	}
	delete(f.values, key)
	return f.save()
}

// Run watches the backing file until ctx is closed. The storage is reloaded
// when the file is rewritten and emptied when it is removed.
func (f *File) Run(ctx context.Context) error {
	logger := tlog.Get(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// The directory is watched since the file is replaced by rename
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", f.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.path) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if _, err := os.Stat(f.path); errors.Is(err, fs.ErrNotExist) {
					f.mu.Lock()
					f.values = map[string]json.RawMessage{}
					f.mu.Unlock()
					logger.Debug("Storage file removed", zap.String("path", f.path))
				}
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				if err := f.load(); err != nil {
					logger.Warn("Failed to reload storage file", zap.String("path", f.path), zap.Error(err))
					continue
				}
				logger.Debug("Storage file reloaded", zap.String("path", f.path))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
