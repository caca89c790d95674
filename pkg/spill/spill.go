// Package spill provides an append-only, disk-backed list of gob-encoded
// items with random access by index.
package spill

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// ErrClosed is returned by operations on a closed spill.
var ErrClosed = errors.New("spill is closed")

// Spill is a generic list of items of type T kept in a temporary file.
type Spill[T any] interface {
	Len() uint64
	Path() string
	Append(item T) error
	Get(index uint64) (T, error)
	// Close removes the backing file.
	Close() error
}

type record struct {
	offset int64
	size   int64
}

type fileSpill[T any] struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	end     int64
	records []record
}

// New creates a spill backed by a temporary file in dir. An empty dir
// means os.TempDir().
func New[T any](dir string) (Spill[T], error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			slog.Error("failed to create spill directory", "path", dir, "error", err)
			return nil, fmt.Errorf("failed to create spill directory: %w", err)
		}
	}

	file, err := os.CreateTemp(dir, "spill-*.gob")
	if err != nil {
		slog.Error("failed to create spill file", "dir", dir, "error", err)
		return nil, fmt.Errorf("failed to create spill file: %w", err)
	}

	slog.Debug("created spill", "path", file.Name())

	return &fileSpill[T]{path: file.Name(), file: file}, nil
}

// Append implements Spill. Every item is encoded as a self-contained gob
// stream so it can be decoded on its own.
func (s *fileSpill[T]) Append(item T) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(item); err != nil {
		slog.Error("failed to encode item", "path", s.path, "error", err)
		return fmt.Errorf("failed to encode item: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrClosed
	}

	n, err := s.file.WriteAt(buf.Bytes(), s.end)
	if err != nil {
		slog.Error("failed to write item", "path", s.path, "index", len(s.records), "error", err)
		return fmt.Errorf("failed to write item: %w", err)
	}

	s.records = append(s.records, record{offset: s.end, size: int64(n)})
	s.end += int64(n)

	return nil
}

// Get implements Spill.
func (s *fileSpill[T]) Get(index uint64) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T

	if s.file == nil {
		return zero, ErrClosed
	}

	if index >= uint64(len(s.records)) {
		return zero, fmt.Errorf("index %d out of bounds (length %d)", index, len(s.records))
	}

	return s.readLocked(index)
}

func (s *fileSpill[T]) readLocked(index uint64) (T, error) {
	var item T

	rec := s.records[index]
	section := io.NewSectionReader(s.file, rec.offset, rec.size)

	if err := gob.NewDecoder(section).Decode(&item); err != nil {
		slog.Error("failed to decode item", "path", s.path, "index", index, "error", err)

		var zero T

		return zero, fmt.Errorf("failed to decode item at index %d: %w", index, err)
	}

	return item, nil
}

// Len implements Spill.
func (s *fileSpill[T]) Len() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return uint64(len(s.records))
}

// Path implements Spill.
func (s *fileSpill[T]) Path() string {
	return s.path
}

// Close implements Spill. It is safe to call more than once.
func (s *fileSpill[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	closeErr := s.file.Close()
	s.file = nil

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to remove spill file", "path", s.path, "error", err)
		return errors.Join(closeErr, err)
	}

	slog.Debug("closed spill", "path", s.path, "length", len(s.records))

	return closeErr
}
