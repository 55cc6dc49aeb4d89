package clientstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// File keeps every key in one JSON object on disk. Writes go to a temp file
// in the same directory followed by os.Rename, so readers never observe a
// half-written file and a batch lands as a single rename.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	return &File{path: path}, nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.readLocked()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *File) Set(key string, value string) error {
	return f.Batch(map[string]string{key: value}, nil)
}

func (f *File) Remove(key string) error {
	return f.Batch(nil, []string{key})
}

var errCorruptStore = errors.New("session store is corrupt")

func (f *File) Batch(sets map[string]string, removes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	changed := false
	values, err := f.readLocked()
	if errors.Is(err, errCorruptStore) && len(sets) == 0 {
		// A remove-only batch resets an unreadable file so logout still works.
		values, changed = map[string]string{}, true
	} else if err != nil {
		return err
	}

	for k, v := range sets {
		if old, ok := values[k]; !ok || old != v {
			values[k] = v
			changed = true
		}
	}
	for _, k := range removes {
		if _, ok := values[k]; ok {
			delete(values, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}

	return f.writeLocked(values)
}

func (f *File) readLocked() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read session store: %w", err)
	}

	values := map[string]string{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse session store: %w: %w", errCorruptStore, err)
	}
	return values, nil
}

func (f *File) writeLocked(values map[string]string) (err error) {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "session-*.json.tmp")
	if err != nil {
		return fmt.Errorf("write session store: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write session store: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session store: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("write session store: %w", err)
	}
	if err = os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("write session store: %w", err)
	}
	return nil
}

// Watch calls onChange every time the store file is replaced or modified by
// any process, until ctx is done. It watches the parent directory because
// writes land via rename.
func (f *File) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}

	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				onChange()
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch session store: %w", werr)
		}
	}
}
