package model

import (
	"context"
	"fmt"
	"os"
)

// FileHandle wraps an opened model file. The inference engine consumes
// the descriptor; this type only owns its lifecycle.
type FileHandle struct {
	path string
	file *os.File
	size int64
}

// Path returns the model file path
func (h *FileHandle) Path() string { return h.path }

// Size returns the model file size in bytes
func (h *FileHandle) Size() int64 { return h.size }

// Close releases the underlying descriptor. Safe to call once.
func (h *FileHandle) Close() error {
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return err
}

// FileFactory builds a Factory that opens the model file at path and
// verifies it is a readable regular file
func FileFactory(path string) Factory {
	return func(ctx context.Context) (Handle, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat model file: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("model path %s is a directory", path)
		}
		if info.Size() == 0 {
			return nil, fmt.Errorf("model file %s is empty", path)
		}

		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open model file: %w", err)
		}

		return &FileHandle{path: path, file: f, size: info.Size()}, nil
	}
}
