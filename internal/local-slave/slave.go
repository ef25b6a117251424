// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package localslave serves a DataModel through the MODBUS dispatcher.
package localslave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ffutop/modbuskit/internal/config"
	"github.com/ffutop/modbuskit/internal/local-slave/model"
	"github.com/ffutop/modbuskit/internal/local-slave/persistence"
	"github.com/ffutop/modbuskit/modbus"
)

// Slave implements the data access functions on top of a DataModel.
type Slave struct {
	model   *model.DataModel
	storage persistence.Storage
	logger  *slog.Logger
}

// New creates a Slave over m. Writes are reported to storage, which may be
// nil for a purely in-memory slave.
func New(m *model.DataModel, storage persistence.Storage) *Slave {
	if storage == nil {
		storage = persistence.NewMemoryStorage()
	}
	return &Slave{
		model:   m,
		storage: storage,
		logger:  slog.Default(),
	}
}

// Open loads the model from the storage selected by cfg.
func Open(cfg config.LocalConfig) (*Slave, error) {
	storage, err := persistence.New(cfg.Persistence)
	if err != nil {
		return nil, err
	}
	slog.Info("Initializing local slave", "persistence", cfg.Persistence.Type, "path", cfg.Persistence.Path)
	m, err := storage.Load()
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to load local slave data: %w", err)
	}
	return New(m, storage), nil
}

// Model returns the data model served by s.
func (s *Slave) Model() *model.DataModel {
	return s.model
}

// Register installs the handlers for the eight data access functions on srv.
func (s *Slave) Register(srv *modbus.Server) {
	srv.AddHandler(modbus.FuncCodeReadCoils, s.readBits(s.model.ReadCoils))
	srv.AddHandler(modbus.FuncCodeReadDiscreteInputs, s.readBits(s.model.ReadDiscreteInputs))
	srv.AddHandler(modbus.FuncCodeReadHoldingRegisters, s.readWords(s.model.ReadHoldingRegisters))
	srv.AddHandler(modbus.FuncCodeReadInputRegisters, s.readWords(s.model.ReadInputRegisters))
	srv.AddHandler(modbus.FuncCodeWriteSingleCoil, s.writeSingleCoil)
	srv.AddHandler(modbus.FuncCodeWriteSingleRegister, s.writeSingleRegister)
	srv.AddHandler(modbus.FuncCodeWriteMultipleCoils, s.writeMultipleCoils)
	srv.AddHandler(modbus.FuncCodeWriteMultipleRegisters, s.writeMultipleRegisters)
}

// Close flushes and closes the storage.
func (s *Slave) Close() error {
	if err := s.storage.Save(s.model); err != nil {
		s.logger.Warn("Failed to save local slave data", "err", err)
	}
	return s.storage.Close()
}

func (s *Slave) readBits(read func(address, quantity uint16) ([]bool, error)) modbus.Handler {
	return func(ctx context.Context, req modbus.Request) (modbus.Response, error) {
		r, ok := req.(modbus.ReadRequest)
		if !ok {
			return nil, fmt.Errorf("unexpected request %T", req)
		}
		values, err := read(r.Address, r.Quantity)
		if err != nil {
			return nil, s.accessError(r.Function, err)
		}
		return modbus.BitsResponse{Values: values}, nil
	}
}

func (s *Slave) readWords(read func(address, quantity uint16) ([]uint16, error)) modbus.Handler {
	return func(ctx context.Context, req modbus.Request) (modbus.Response, error) {
		r, ok := req.(modbus.ReadRequest)
		if !ok {
			return nil, fmt.Errorf("unexpected request %T", req)
		}
		values, err := read(r.Address, r.Quantity)
		if err != nil {
			return nil, s.accessError(r.Function, err)
		}
		return modbus.RegistersResponse{Values: values}, nil
	}
}

func (s *Slave) writeSingleCoil(ctx context.Context, req modbus.Request) (modbus.Response, error) {
	r := req.(modbus.WriteSingleCoilRequest)
	if err := s.model.WriteCoils(r.Address, []bool{r.Value}); err != nil {
		return nil, s.accessError(r.FunctionCode(), err)
	}
	s.storage.OnWrite(model.TableCoils, r.Address, 1)
	return modbus.WriteSingleCoilResponse{Address: r.Address, Value: r.Value}, nil
}

func (s *Slave) writeSingleRegister(ctx context.Context, req modbus.Request) (modbus.Response, error) {
	r := req.(modbus.WriteSingleRegisterRequest)
	if err := s.model.WriteHoldingRegisters(r.Address, []uint16{r.Value}); err != nil {
		return nil, s.accessError(r.FunctionCode(), err)
	}
	s.storage.OnWrite(model.TableHoldingRegisters, r.Address, 1)
	return modbus.WriteSingleRegisterResponse{Address: r.Address, Value: r.Value}, nil
}

func (s *Slave) writeMultipleCoils(ctx context.Context, req modbus.Request) (modbus.Response, error) {
	r := req.(modbus.WriteMultipleCoilsRequest)
	if err := s.model.WriteCoils(r.Address, r.Values); err != nil {
		return nil, s.accessError(r.FunctionCode(), err)
	}
	quantity := uint16(len(r.Values))
	s.storage.OnWrite(model.TableCoils, r.Address, quantity)
	return modbus.WriteMultipleResponse{Address: r.Address, Quantity: quantity}, nil
}

func (s *Slave) writeMultipleRegisters(ctx context.Context, req modbus.Request) (modbus.Response, error) {
	r := req.(modbus.WriteMultipleRegistersRequest)
	if err := s.model.WriteHoldingRegisters(r.Address, r.Values); err != nil {
		return nil, s.accessError(r.FunctionCode(), err)
	}
	quantity := uint16(len(r.Values))
	s.storage.OnWrite(model.TableHoldingRegisters, r.Address, quantity)
	return modbus.WriteMultipleResponse{Address: r.Address, Quantity: quantity}, nil
}

// accessError maps a model error to the exception sent to the master.
func (s *Slave) accessError(fc modbus.FunctionCode, err error) error {
	if errors.Is(err, model.ErrOutOfRange) {
		return modbus.ExceptionCodeIllegalDataAddress
	}
	s.logger.Debug("Rejected data access", "func", fc, "err", err)
	return modbus.ExceptionCodeIllegalDataValue
}
