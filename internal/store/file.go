package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"feedline/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// fileDoc is the on-disk layout of the file backend.
type fileDoc struct {
	Version int                         `json:"version"`
	Scopes  map[Scope]map[string]entry `json:"scopes"`
}

// FileStore persists entries in a single JSON file readable only by the
// owner. Every operation re-reads the file so that changes made by other
// processes are observed.
type FileStore struct {
	mu     sync.Mutex
	path   string
	opts   Options
	closed bool

	debounceDur time.Duration
}

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string, opts Options) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	logging.StoreDebug("File store at %s", path)
	return &FileStore{path: path, opts: opts, debounceDur: 50 * time.Millisecond}, nil
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) load() (*fileDoc, error) {
	doc := &fileDoc{Version: 1, Scopes: make(map[Scope]map[string]entry)}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		// A corrupt file is treated as empty; the next write replaces it.
		logging.StoreError("Corrupt store file %s: %v", f.path, err)
		return &fileDoc{Version: 1, Scopes: make(map[Scope]map[string]entry)}, nil
	}
	if doc.Scopes == nil {
		doc.Scopes = make(map[Scope]map[string]entry)
	}
	return doc, nil
}

// save writes to a temp file and renames it over the original.
func (f *FileStore) save(doc *fileDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".store-*")
	if err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}

func (f *FileStore) Get(_ context.Context, scope Scope, key string) (string, bool, error) {
	if err := checkScope(scope); err != nil {
		return "", false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", false, ErrClosed
	}
	doc, err := f.load()
	if err != nil {
		return "", false, err
	}
	e, ok := doc.Scopes[scope][key]
	if !ok || e.expired(f.opts.now()) {
		return "", false, nil
	}
	return e.Value, true, nil
}

func (f *FileStore) Set(_ context.Context, scope Scope, key, value string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	doc, err := f.load()
	if err != nil {
		return err
	}
	f.prune(doc)
	if doc.Scopes[scope] == nil {
		doc.Scopes[scope] = make(map[string]entry)
	}
	doc.Scopes[scope][key] = newEntry(scope, value, f.opts)
	logging.StoreDebug("Set %s/%s", scope, key)
	return f.save(doc)
}

func (f *FileStore) Remove(_ context.Context, scope Scope, key string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	doc, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Scopes[scope][key]; !ok {
		return nil
	}
	delete(doc.Scopes[scope], key)
	logging.StoreDebug("Removed %s/%s", scope, key)
	return f.save(doc)
}

func (f *FileStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	logging.StoreDebug("Clearing %s", f.path)
	return f.save(&fileDoc{Version: 1, Scopes: make(map[Scope]map[string]entry)})
}

// prune drops expired entries before a write.
func (f *FileStore) prune(doc *fileDoc) {
	now := f.opts.now()
	for _, entries := range doc.Scopes {
		for k, e := range entries {
			if e.expired(now) {
				delete(entries, k)
			}
		}
	}
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Watch follows the store's directory and calls onChange once per burst
// of events touching the store file. It blocks until ctx is done.
func (f *FileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Renames replace the file inode, so watch the directory.
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logging.StoreDebug("Watching %s", f.path)

	target := filepath.Clean(f.path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if pending == nil {
				pending = time.After(f.debounceDur)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.StoreError("Watcher error: %v", err)

		case <-pending:
			pending = nil
			onChange()
		}
	}
}
