// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ffutop/modbuskit/internal/local-slave/model"
)

// FileStorage implements persistence using plain file operations. The
// model returned by Load is backed by an in-memory copy of the file, and
// every write is pushed to disk for the touched range only.
type FileStorage struct {
	path  string
	file  *os.File
	data  []byte
	model *model.DataModel
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

// Load reads the data file, creating it zeroed if necessary.
func (fs *FileStorage) Load() (*model.DataModel, error) {
	f, err := os.OpenFile(fs.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize file: %w", err)
		}
	}

	data := make([]byte, totalSize)
	if _, err := io.ReadFull(f, data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	fs.file = f
	fs.data = data
	fs.model = mapBytesToModel(data)
	return fs.model, nil
}

// Save writes m to the file and syncs it. When m is not the model returned
// by Load, its contents are copied in first.
func (fs *FileStorage) Save(m *model.DataModel) error {
	if fs.file == nil {
		return fmt.Errorf("file storage %s is not loaded", fs.path)
	}
	if m != nil && m != fs.model {
		fs.model.Restore(m.Snapshot())
	}
	return fs.writeRange(0, totalSize)
}

// OnWrite writes the touched range through to disk.
func (fs *FileStorage) OnWrite(table model.TableType, address, quantity uint16) {
	if fs.file == nil {
		return
	}
	off, n := region(table, address, quantity)
	if off+n > totalSize {
		n = totalSize - off
	}
	if err := fs.writeRange(off, n); err != nil {
		slog.Error("Failed to persist write", "path", fs.path, "table", table, "address", address, "err", err)
	}
}

func (fs *FileStorage) writeRange(off, n int) error {
	l := fs.model.ReadLocker()
	l.Lock()
	_, err := fs.file.WriteAt(fs.data[off:off+n], int64(off))
	l.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

// Close closes the file.
func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
