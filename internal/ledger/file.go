package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileLedger keeps the seen set in memory and persists it as a JSON array of
// identity strings, oldest first. Loading is fail-open: a missing or corrupt
// file starts an empty ledger instead of blocking the daemon.
type FileLedger struct {
	path       string
	maxEntries int
	logger     *slog.Logger

	mu    sync.Mutex
	order []string
	index map[string]struct{}
	dirty bool
}

func NewFileLedger(path string, maxEntries int, logger *slog.Logger) (*FileLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	l := &FileLedger{
		path:       path,
		maxEntries: maxEntries,
		logger:     logger,
		index:      make(map[string]struct{}),
	}
	l.load()
	return l, nil
}

func (l *FileLedger) load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("seen ledger unreadable, starting empty", "path", l.path, "error", err)
		}
		return
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		l.logger.Warn("seen ledger corrupt, starting empty", "path", l.path, "error", err)
		return
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := l.index[id]; ok {
			continue
		}
		l.index[id] = struct{}{}
		l.order = append(l.order, id)
	}
	l.evictLocked()
}

func (l *FileLedger) Seen(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[id]
	return ok, nil
}

func (l *FileLedger) Mark(_ context.Context, id string) error {
	if id == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[id]; ok {
		return nil
	}
	l.index[id] = struct{}{}
	l.order = append(l.order, id)
	l.dirty = true
	l.evictLocked()
	return nil
}

// evictLocked drops oldest-inserted identities until the ledger is at or
// under its cap. Callers must hold l.mu.
func (l *FileLedger) evictLocked() {
	excess := len(l.order) - l.maxEntries
	if excess <= 0 {
		return
	}
	for _, id := range l.order[:excess] {
		delete(l.index, id)
	}
	l.order = append([]string(nil), l.order[excess:]...)
	l.dirty = true
}

// Flush writes the ledger atomically via a temp file and rename. It is a
// no-op when nothing changed since the last write.
func (l *FileLedger) Flush(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dirty {
		return nil
	}

	data, err := json.Marshal(l.order)
	if err != nil {
		return fmt.Errorf("encode seen ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".seen-*.json")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write seen ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace seen ledger: %w", err)
	}
	l.dirty = false
	return nil
}

func (l *FileLedger) Size(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order), nil
}

// Close releases the ledger without flushing. Callers decide whether a pass
// completed cleanly enough to persist.
func (l *FileLedger) Close() error {
	return nil
}
