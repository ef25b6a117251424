// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package persistence keeps the data model of a local slave across restarts.
package persistence

import (
	"fmt"

	"github.com/ffutop/modbuskit/internal/config"
	"github.com/ffutop/modbuskit/internal/local-slave/model"
)

// Storage defines the interface for persisting the local slave data model.
type Storage interface {
	// Load returns the stored data model, or a fresh zeroed one when
	// nothing is stored yet.
	Load() (*model.DataModel, error)

	// Save writes the whole model to storage.
	Save(model *model.DataModel) error

	// OnWrite is called after a write to the model returned by Load.
	// Persistent storages write the touched range through.
	OnWrite(table model.TableType, address, quantity uint16)

	Close() error
}

// New returns the storage selected by cfg.
func New(cfg config.PersistenceConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.Path), nil
	case "mmap":
		return NewMmapStorage(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
	}
}
