package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/nvail/framebridge/internal/media"
)

// fileSink appends Annex B samples to a raw bitstream file, or discards
// them when no output path is configured. Send is called from the
// encoder's completion goroutine while Close runs on the main goroutine,
// hence the lock.
type fileSink struct {
	mu sync.Mutex
	f  *os.File
}

func newSink(path string) (*fileSink, error) {
	if path == "" {
		return &fileSink{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	return &fileSink{f: f}, nil
}

func (s *fileSink) Send(_ media.Codec, data []byte, _ uint64, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
