// Package history keeps transcriptions with their timestamps so the user
// can look up what was dictated earlier.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Entry struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	Insert(text string) error
	Recent(n int) ([]Entry, error)
}

// FileStore appends one JSON object per line. Append-only keeps Insert
// cheap on the delivery path; Recent pays the full-file read instead.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func Open(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Insert(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(Entry{Text: text, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("encoding history entry: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening history file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing history entry: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first. Unparseable lines are
// skipped rather than failing the whole read.
func (s *FileStore) Recent(n int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening history file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if json.Unmarshal(scanner.Bytes(), &e) != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading history file: %w", err)
	}

	// newest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}
