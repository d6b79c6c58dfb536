package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/feichai0017/ocr-batch/internal/models"
)

// record is one line of the ledger file.
type record struct {
	Key    string    `json:"key"`
	DoneAt time.Time `json:"doneAt"`
}

// FileLedger persists progress as newline-delimited JSON, one completed key
// per line. Appending keeps the cost of marking N items at O(N) total
// instead of rewriting the file each time.
type FileLedger struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileLedger opens (or lazily creates) the ledger at path.
func NewFileLedger(path string) (*FileLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &FileLedger{path: path}, nil
}

// Load implements Ledger.Load.
func (l *FileLedger) Load(ctx context.Context) (Progress, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	progress := make(Progress)

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return progress, nil
		}
		return nil, fmt.Errorf("failed to open ledger %s: %w", l.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", models.ErrLedgerCorrupt, l.path, line, err)
		}
		if rec.Key == "" {
			return nil, fmt.Errorf("%w: %s line %d: empty key", models.ErrLedgerCorrupt, l.path, line)
		}
		progress[rec.Key] = rec.DoneAt
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", l.path, err)
	}

	return progress, nil
}

// MarkDone appends one record and syncs it to disk before returning. The
// synchronous flush trades throughput for crash safety: after MarkDone
// returns, the fact is durable even if the process is killed right away.
func (l *FileLedger) MarkDone(ctx context.Context, progress Progress, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open ledger for append: %w", err)
		}
		l.file = f
	}

	now := time.Now().UTC()
	data, err := json.Marshal(record{Key: key, DoneAt: now})
	if err != nil {
		return fmt.Errorf("failed to marshal ledger record: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("failed to append ledger record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger: %w", err)
	}

	progress[key] = now
	return nil
}

// Reset removes the backing file. Explicit caller decision only.
func (l *FileLedger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to reset ledger: %w", err)
	}
	return nil
}

func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
