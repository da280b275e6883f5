// Package checkpoint keeps the resume marker and the keyword ledgers on disk.
package checkpoint

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"MedicineCrawler/internal/domain"
	"MedicineCrawler/internal/infrastructure/metrics"
	"MedicineCrawler/internal/ports"
)

const (
	checkpointFile = "checkpoint.json"
	completedFile  = "completed_keywords.txt"
	failedFile     = "failed_keywords.txt"
)

// FileStore keeps checkpoint.json, rewritten atomically, and two append-only ledgers.
type FileStore struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

var _ ports.CheckpointStore = (*FileStore)(nil)

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create checkpoint dir: %v", domain.ErrSetup, err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) path(name string) string { return filepath.Join(s.dir, name) }

// Save records progress for its keyword and makes it the latest marker.
func (s *FileStore) Save(_ context.Context, progress domain.KeywordProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.read()
	if err != nil {
		return err
	}
	if cp == nil {
		cp = &domain.Checkpoint{}
	}
	if cp.InProgress == nil {
		cp.InProgress = map[string]domain.KeywordProgress{}
	}
	// A file written before per-keyword entries existed only has the latest.
	if cp.Keyword != "" && cp.Keyword != progress.Keyword {
		if _, ok := cp.InProgress[cp.Keyword]; !ok {
			cp.InProgress[cp.Keyword] = cp.KeywordProgress
		}
	}
	progress.Timestamp = s.now().UTC()
	cp.KeywordProgress = progress
	cp.InProgress[progress.Keyword] = progress
	return s.write(cp)
}

// Remove drops keyword's entry. The file is deleted when nothing is left.
func (s *FileStore) Remove(_ context.Context, keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.read()
	if err != nil || cp == nil {
		return err
	}
	if _, ok := cp.Progress(keyword); !ok {
		return nil
	}
	delete(cp.InProgress, keyword)
	if cp.Keyword == keyword {
		cp.KeywordProgress = domain.KeywordProgress{}
		for _, p := range cp.InProgress {
			if p.Timestamp.After(cp.Timestamp) || cp.Keyword == "" {
				cp.KeywordProgress = p
			}
		}
	}
	if cp.Keyword == "" && len(cp.InProgress) == 0 {
		return s.remove()
	}
	return s.write(cp)
}

// Load returns nil when no checkpoint exists.
func (s *FileStore) Load(_ context.Context) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) read() (*domain.Checkpoint, error) {
	data, err := os.ReadFile(s.path(checkpointFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.Keyword == "" && len(cp.InProgress) == 0 {
		return nil, nil
	}
	return &cp, nil
}

// write replaces checkpoint.json through a temp file and a rename.
func (s *FileStore) write(cp *domain.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, checkpointFile+".*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(checkpointFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	metrics.CheckpointSaves.Inc()
	return nil
}

func (s *FileStore) remove() error {
	if err := os.Remove(s.path(checkpointFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// Clear removes every marker. Only a completed full run calls it.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove()
}

// Completed returns the set of finished keywords.
func (s *FileStore) Completed(_ context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]bool{}
	err := s.readLines(completedFile, func(line string) {
		out[line] = true
	})
	return out, err
}

// Failed returns the failed ledger in append order.
func (s *FileStore) Failed(_ context.Context) ([]domain.FailedKeyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.FailedKeyword
	err := s.readLines(failedFile, func(line string) {
		kw, reason, _ := strings.Cut(line, " # ")
		out = append(out, domain.FailedKeyword{Keyword: strings.TrimSpace(kw), Reason: strings.TrimSpace(reason)})
	})
	return out, err
}

func (s *FileStore) MarkCompleted(_ context.Context, keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLine(completedFile, keyword)
}

// MarkFailed appends "keyword # reason"; newlines in reason are flattened.
func (s *FileStore) MarkFailed(_ context.Context, keyword, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason = strings.Join(strings.Fields(reason), " ")
	return s.appendLine(failedFile, keyword+" # "+reason)
}

func (s *FileStore) appendLine(name, line string) error {
	f, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) readLines(name string, fn func(string)) error {
	f, err := os.Open(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return nil
}
