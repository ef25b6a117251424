// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package localslave

import (
	"bytes"
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ffutop/modbuskit/internal/config"
	"github.com/ffutop/modbuskit/internal/local-slave/model"
	"github.com/ffutop/modbuskit/modbus"
)

type recordingStorage struct {
	writes []string
}

func (r *recordingStorage) Load() (*model.DataModel, error) { return model.NewDataModel(), nil }
func (r *recordingStorage) Save(*model.DataModel) error     { return nil }
func (r *recordingStorage) Close() error                    { return nil }
func (r *recordingStorage) OnWrite(table model.TableType, address, quantity uint16) {
	r.writes = append(r.writes, table.String())
}

func newTestSlave(t *testing.T) (*Slave, *modbus.Server, *recordingStorage) {
	t.Helper()
	storage := &recordingStorage{}
	m := model.NewDataModel()
	if err := m.SetDiscreteInputs(0, []bool{true, false, true}); err != nil {
		t.Fatal(err)
	}
	if err := m.SetInputRegisters(8, []uint16{0x1111, 0x2222}); err != nil {
		t.Fatal(err)
	}
	s := New(m, storage)
	srv := modbus.NewServer()
	s.Register(srv)
	return s, srv, storage
}

func TestSlave_Functions(t *testing.T) {
	_, srv, storage := newTestSlave(t)
	steps := []struct {
		name string
		req  []byte
		want []byte
	}{
		{"WriteSingleCoil", []byte{0x05, 0x00, 0x02, 0xFF, 0x00}, []byte{0x05, 0x00, 0x02, 0xFF, 0x00}},
		{"WriteMultipleCoils", []byte{0x0F, 0x00, 0x04, 0x00, 0x03, 0x01, 0x05}, []byte{0x0F, 0x00, 0x04, 0x00, 0x03}},
		{"ReadCoils", []byte{0x01, 0x00, 0x00, 0x00, 0x08}, []byte{0x01, 0x01, 0x54}},
		{"ReadDiscreteInputs", []byte{0x02, 0x00, 0x00, 0x00, 0x03}, []byte{0x02, 0x01, 0x05}},
		{"WriteSingleRegister", []byte{0x06, 0x00, 0x01, 0xBE, 0xEF}, []byte{0x06, 0x00, 0x01, 0xBE, 0xEF}},
		{"WriteMultipleRegisters", []byte{0x10, 0x00, 0x02, 0x00, 0x01, 0x02, 0x00, 0x2A}, []byte{0x10, 0x00, 0x02, 0x00, 0x01}},
		{"ReadHoldingRegisters", []byte{0x03, 0x00, 0x00, 0x00, 0x03}, []byte{0x03, 0x06, 0x00, 0x00, 0xBE, 0xEF, 0x00, 0x2A}},
		{"ReadInputRegisters", []byte{0x04, 0x00, 0x08, 0x00, 0x02}, []byte{0x04, 0x04, 0x11, 0x11, 0x22, 0x22}},
	}
	for _, step := range steps {
		resp, err := srv.Handle(context.Background(), step.req)
		if err != nil {
			t.Fatalf("%s: Handle() error = %v", step.name, err)
		}
		if !bytes.Equal(resp, step.want) {
			t.Errorf("%s: Handle() = % X, want % X", step.name, resp, step.want)
		}
	}

	want := []string{"coils", "coils", "holding registers", "holding registers"}
	if !reflect.DeepEqual(storage.writes, want) {
		t.Errorf("OnWrite calls = %v, want %v", storage.writes, want)
	}
}

func TestSlave_OutOfRange(t *testing.T) {
	_, srv, storage := newTestSlave(t)
	tests := []struct {
		name string
		req  []byte
		want []byte
	}{
		{"ReadCoils", []byte{0x01, 0xFF, 0xFF, 0x00, 0x02}, []byte{0x81, 0x02}},
		{"ReadHoldingRegisters", []byte{0x03, 0xFF, 0xF0, 0x00, 0x20}, []byte{0x83, 0x02}},
		{"WriteMultipleRegisters", []byte{0x10, 0xFF, 0xFF, 0x00, 0x02, 0x04, 0x00, 0x01, 0x00, 0x02}, []byte{0x90, 0x02}},
		{"LastAddress", []byte{0x04, 0xFF, 0xFF, 0x00, 0x01}, []byte{0x04, 0x02, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := srv.Handle(context.Background(), tt.req)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(resp, tt.want) {
				t.Errorf("Handle() = % X, want % X", resp, tt.want)
			}
		})
	}
	if len(storage.writes) != 0 {
		t.Errorf("OnWrite called for rejected writes: %v", storage.writes)
	}
}

func TestOpen_FilePersistence(t *testing.T) {
	cfg := config.LocalConfig{Persistence: config.PersistenceConfig{
		Type: "file",
		Path: filepath.Join(t.TempDir(), "slave.bin"),
	}}

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	srv := modbus.NewServer()
	s.Register(srv)
	if _, err := srv.Handle(context.Background(), []byte{0x06, 0x00, 0x07, 0x12, 0x34}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = Open(cfg)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	got, err := s.Model().ReadHoldingRegisters(7, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0x1234 {
		t.Errorf("holding register 7 = %04X, want 1234", got[0])
	}
}

func TestOpen_UnknownPersistence(t *testing.T) {
	if _, err := Open(config.LocalConfig{Persistence: config.PersistenceConfig{Type: "tape"}}); err == nil {
		t.Error("Open() error = nil")
	}
}
