package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ArchiveSink receives immutable records moved out of the live ledger.
type ArchiveSink interface {
	Archive(region Region, records []json.RawMessage) error
}

// JsonlArchive appends archived records to one JSONL file per region.
type JsonlArchive struct {
	dir string
	mu  sync.Mutex
}

func NewJsonlArchive(dir string) *JsonlArchive {
	return &JsonlArchive{dir: dir}
}

// Path returns the archive file for a region.
func (s *JsonlArchive) Path(region Region) string {
	return filepath.Join(s.dir, region.String()+".jsonl")
}

// Archive appends a batch of records as JSON lines.
func (s *JsonlArchive) Archive(region Region, records []json.RawMessage) error {
	if len(records) == 0 {
		return nil
	}

	if s.dir != "" && s.dir != "." {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return fmt.Errorf("create archive dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.Path(region), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		if _, err := writer.Write(record); err != nil {
			return fmt.Errorf("write archive record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}

	return nil
}
