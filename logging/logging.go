package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// DefaultMaxBytes is the rotation size used when Setup gets 0
const DefaultMaxBytes = 5 * 1024 * 1024

// RotatingWriter appends to a log file and moves it to path+".1" once it
// grows past maxSize. Only one backup is kept.
type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// Open opens (or creates) the log file without touching the global logger
func Open(path string, maxBytes int64) (*RotatingWriter, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	w := &RotatingWriter{path: path, maxSize: maxBytes}

	// an oversized file from a previous run becomes the backup
	if info, err := os.Stat(path); err == nil && info.Size() > maxBytes {
		if err := os.Rename(path, path+".1"); err != nil {
			return nil, fmt.Errorf("rotate log: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	w.file = f
	if info, err := f.Stat(); err == nil {
		w.size = info.Size()
	}
	return w, nil
}

// Setup tees the standard logger to stdout and a rotating file at path
func Setup(path string, maxBytes int64) (*RotatingWriter, error) {
	rw, err := Open(path, maxBytes)
	if err != nil {
		return nil, err
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(io.MultiWriter(os.Stdout, rw))
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		w.rotate()
	}

	return n, err
}

func (w *RotatingWriter) rotate() {
	w.file.Close()
	os.Rename(w.path, w.path+".1")

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		// fall back to stderr until the next rotation
		w.file = os.Stderr
		return
	}

	w.file = f
	w.size = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == os.Stderr {
		return nil
	}
	return w.file.Close()
}
