package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSink appends events to a JSONL file, one event per line.
type FileSink struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
	mu     sync.Mutex
}

func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("audit file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &FileSink{path: path, file: f, writer: w, enc: json.NewEncoder(w)}, nil
}

func (s *FileSink) Name() string { return "file:" + s.path }

// Deliver writes and flushes ev so a crash loses at most the event in flight.
func (s *FileSink) Deliver(_ context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.New("audit file sink closed")
	}
	// Encode appends the newline.
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (s *FileSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.file = nil
	return errors.Join(flushErr, closeErr)
}
