package clientstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Storage is the key-value capability the session manager persists into.
// Get reports ok=false for an absent key. Implementations are safe for
// concurrent use.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key string, value string) error
	Remove(key string) error
}

// Batcher is implemented by stores that can apply several writes
// all-or-nothing.
type Batcher interface {
	Batch(sets map[string]string, removes []string) error
}

// ApplyBatch writes sets and removes to store atomically when it implements
// Batcher. Otherwise it applies them one by one and, on the first failure,
// restores the previous value of every key already touched.
func ApplyBatch(store Storage, sets map[string]string, removes []string) error {
	if b, ok := store.(Batcher); ok {
		return b.Batch(sets, removes)
	}

	type previous struct {
		value string
		ok    bool
	}
	touched := map[string]previous{}

	remember := func(key string) error {
		if _, seen := touched[key]; seen {
			return nil
		}
		v, ok, err := store.Get(key)
		if err != nil {
			return err
		}
		touched[key] = previous{value: v, ok: ok}
		return nil
	}

	rollback := func() {
		for key, prev := range touched {
			if prev.ok {
				_ = store.Set(key, prev.value)
			} else {
				_ = store.Remove(key)
			}
		}
	}

	for key, value := range sets {
		if err := remember(key); err != nil {
			rollback()
			return fmt.Errorf("read %q before write: %w", key, err)
		}
		if err := store.Set(key, value); err != nil {
			rollback()
			return fmt.Errorf("set %q: %w", key, err)
		}
	}

	for _, key := range removes {
		if err := remember(key); err != nil {
			rollback()
			return fmt.Errorf("read %q before remove: %w", key, err)
		}
		if err := store.Remove(key); err != nil {
			rollback()
			return fmt.Errorf("remove %q: %w", key, err)
		}
	}

	return nil
}

// DefaultDir returns $XDG_DATA_HOME/codepods or ~/.local/share/codepods.
func DefaultDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}

	return filepath.Join(base, "codepods"), nil
}

// Open returns the Storage for backend ("file", "sqlite" or "memory").
// An empty path selects a file under DefaultDir.
func Open(backend string, path string) (Storage, error) {
	if backend == "memory" {
		return NewMemory(), nil
	}

	if path == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data directory: %w", err)
		}
		name := "session.json"
		if backend == "sqlite" {
			name = "session.db"
		}
		path = filepath.Join(dir, name)
	}

	switch backend {
	case "", "file":
		return NewFile(path)
	case "sqlite":
		return NewSQLite(path)
	default:
		return nil, errors.New("unknown store backend: " + backend)
	}
}
