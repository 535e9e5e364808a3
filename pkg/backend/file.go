package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creact-labs/creact-sub004/pkg/state"
)

// FileBackend stores deployment state as JSON files under a directory:
// <stack>.json for state, <stack>.audit.jsonl for the audit trail, and
// <stack>.lock for advisory locks. State writes go through a temp file and
// rename so a crash never leaves a torn file behind.
type FileBackend struct {
	dir string
}

type fileLock struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewFileBackend creates the state directory when missing.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) statePath(stack string) string {
	return filepath.Join(b.dir, stack+".json")
}

func (b *FileBackend) auditPath(stack string) string {
	return filepath.Join(b.dir, stack+".audit.jsonl")
}

func (b *FileBackend) lockPath(stack string) string {
	return filepath.Join(b.dir, stack+".lock")
}

// GetState loads the stack's persisted state, nil when absent.
func (b *FileBackend) GetState(_ context.Context, stack string) (*state.DeploymentState, error) {
	data, err := os.ReadFile(b.statePath(stack))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state for %s: %w", stack, err)
	}
	return state.UnmarshalState(data)
}

// SaveState writes the state atomically.
func (b *FileBackend) SaveState(_ context.Context, stack string, s *state.DeploymentState) error {
	data, err := state.MarshalState(s)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, stack+".*.tmp")
	if err != nil {
		return fmt.Errorf("write state for %s: %w", stack, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state for %s: %w", stack, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write state for %s: %w", stack, err)
	}
	if err := os.Rename(tmpName, b.statePath(stack)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit state for %s: %w", stack, err)
	}
	return nil
}

// AppendAuditLog appends one JSON line.
func (b *FileBackend) AppendAuditLog(_ context.Context, stack string, entry state.AuditEntry) error {
	f, err := os.OpenFile(b.auditPath(stack), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log for %s: %w", stack, err)
	}
	defer f.Close()
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append audit log for %s: %w", stack, err)
	}
	return nil
}

// GetAuditLog returns the newest entries, most recent last. limit <= 0
// returns everything.
func (b *FileBackend) GetAuditLog(_ context.Context, stack string, limit int) ([]state.AuditEntry, error) {
	f, err := os.Open(b.auditPath(stack))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log for %s: %w", stack, err)
	}
	defer f.Close()

	var entries []state.AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e state.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// AcquireLock takes the advisory lock via exclusive file creation. An
// expired lock file is broken and re-taken.
func (b *FileBackend) AcquireLock(_ context.Context, stack, holder string, ttl time.Duration) (bool, error) {
	lock := fileLock{Holder: holder, ExpiresAt: time.Now().Add(ttl)}
	data, err := json.Marshal(lock)
	if err != nil {
		return false, err
	}

	f, err := os.OpenFile(b.lockPath(stack), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		existing, readErr := os.ReadFile(b.lockPath(stack))
		if readErr != nil {
			return false, nil
		}
		var held fileLock
		if json.Unmarshal(existing, &held) == nil && time.Now().Before(held.ExpiresAt) {
			return false, nil
		}
		// Stale lock: break and retry once.
		os.Remove(b.lockPath(stack))
		f, err = os.OpenFile(b.lockPath(stack), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return false, nil
		}
	} else if err != nil {
		return false, fmt.Errorf("acquire lock for %s: %w", stack, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseLock removes the lock file.
func (b *FileBackend) ReleaseLock(_ context.Context, stack string) error {
	err := os.Remove(b.lockPath(stack))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
