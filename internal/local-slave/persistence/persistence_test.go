// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ffutop/modbuskit/internal/config"
	"github.com/ffutop/modbuskit/internal/local-slave/model"
)

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		cfg     config.PersistenceConfig
		want    Storage
		wantErr bool
	}{
		{cfg: config.PersistenceConfig{}, want: &MemoryStorage{}},
		{cfg: config.PersistenceConfig{Type: "memory"}, want: &MemoryStorage{}},
		{cfg: config.PersistenceConfig{Type: "file", Path: filepath.Join(dir, "a")}, want: &FileStorage{}},
		{cfg: config.PersistenceConfig{Type: "mmap", Path: filepath.Join(dir, "b")}, want: &MmapStorage{}},
		{cfg: config.PersistenceConfig{Type: "sqlite"}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := New(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Fatalf("New(%+v) error = %v, wantErr %v", tt.cfg, err, tt.wantErr)
		}
		if tt.wantErr {
			continue
		}
		if reflect.TypeOf(got) != reflect.TypeOf(tt.want) {
			t.Errorf("New(%+v) = %T, want %T", tt.cfg, got, tt.want)
		}
	}
}

func TestStorage_Reload(t *testing.T) {
	tests := []struct {
		name string
		open func(path string) Storage
	}{
		{"File", func(path string) Storage { return NewFileStorage(path) }},
		{"Mmap", func(path string) Storage { return NewMmapStorage(path) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "slave.bin")

			s := tt.open(path)
			m, err := s.Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if err := m.WriteHoldingRegisters(100, []uint16{0xBEEF, 0x1234}); err != nil {
				t.Fatal(err)
			}
			s.OnWrite(model.TableHoldingRegisters, 100, 2)
			if err := m.WriteCoils(65535, []bool{true}); err != nil {
				t.Fatal(err)
			}
			s.OnWrite(model.TableCoils, 65535, 1)
			if err := m.SetInputRegisters(0, []uint16{7}); err != nil {
				t.Fatal(err)
			}
			s.OnWrite(model.TableInputRegisters, 0, 1)
			if err := s.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			s = tt.open(path)
			m, err = s.Load()
			if err != nil {
				t.Fatalf("reload error = %v", err)
			}
			defer s.Close()

			regs, _ := m.ReadHoldingRegisters(100, 2)
			if !reflect.DeepEqual(regs, []uint16{0xBEEF, 0x1234}) {
				t.Errorf("holding registers = %04X", regs)
			}
			coils, _ := m.ReadCoils(65535, 1)
			if !coils[0] {
				t.Error("coil 65535 lost")
			}
			input, _ := m.ReadInputRegisters(0, 1)
			if input[0] != 7 {
				t.Errorf("input register 0 = %d, want 7", input[0])
			}
		})
	}
}

func TestFileStorage_SaveForeignModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slave.bin")
	s := NewFileStorage(path)
	if _, err := s.Load(); err != nil {
		t.Fatal(err)
	}

	other := model.NewDataModel()
	if err := other.SetDiscreteInputs(3, []bool{true, true}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(other); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	s.Close()

	s = NewFileStorage(path)
	m, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, _ := m.ReadDiscreteInputs(2, 3)
	if !reflect.DeepEqual(got, []bool{false, true, true}) {
		t.Errorf("discrete inputs = %v", got)
	}
}

func TestStorage_SaveBeforeLoad(t *testing.T) {
	if err := NewFileStorage("unused").Save(nil); err == nil {
		t.Error("FileStorage.Save() before Load error = nil")
	}
	if err := NewMmapStorage("unused").Save(nil); err == nil {
		t.Error("MmapStorage.Save() before Load error = nil")
	}
}

func TestRegion(t *testing.T) {
	tests := []struct {
		table  model.TableType
		addr   uint16
		qty    uint16
		off, n int
	}{
		{model.TableCoils, 10, 3, 10, 3},
		{model.TableDiscreteInputs, 0, 1, offsetDiscrete, 1},
		{model.TableHoldingRegisters, 5, 2, offsetHolding + 10, 4},
		{model.TableInputRegisters, 65535, 1, totalSize - 2, 2},
	}
	for _, tt := range tests {
		off, n := region(tt.table, tt.addr, tt.qty)
		if off != tt.off || n != tt.n {
			t.Errorf("region(%v, %d, %d) = (%d, %d), want (%d, %d)", tt.table, tt.addr, tt.qty, off, n, tt.off, tt.n)
		}
	}
}
