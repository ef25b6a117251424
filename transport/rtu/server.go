// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ffutop/modbuskit/internal/config"
	rtupacket "github.com/ffutop/modbuskit/modbus/rtu"
	"github.com/ffutop/modbuskit/transport"
)

// broadcastID addresses every slave on the bus; broadcasts get no reply.
const broadcastID = 0

// Server implements a Modbus RTU Server (Upstream).
// It acts as a Slave on the serial bus, waiting for requests from an external Master.
type Server struct {
	Config config.SerialConfig

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// NewServer creates a new RTU Server.
func NewServer(cfg config.SerialConfig) *Server {
	return &Server{
		Config: cfg,
	}
}

// Start opens the serial port and serves requests until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	spConfig := newSerialConfig(s.Config)
	port, err := openPort(&spConfig)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Config.Device, err)
	}
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	defer s.Close()
	slog.Info("RTU Server listening", "device", s.Config.Device)

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	return s.scanLoop(ctx, port, handler)
}

// scanLoop reads request frames back to back and answers each one before
// reading the next.
func (s *Server) scanLoop(ctx context.Context, port io.ReadWriter, handler transport.RequestHandler) error {
	buf := make([]byte, rtupacket.MaxSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		raw, err := rtupacket.ReadRequest(port, buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) && !s.isOpen() {
				return nil
			}
			var fcErr *rtupacket.UnsupportedFunctionError
			if errors.As(err, &fcErr) {
				slog.Debug("Dropping request with unsupported function code", "slaveID", fcErr.SlaveID, "func", fcErr.Function)
				continue
			}
			slog.Debug("Invalid request or partial read", "err", err)
			continue
		}

		adu, err := rtupacket.Decode(raw)
		if err != nil {
			slog.Warn("RTU frame decode failed", "frame", hex.EncodeToString(raw), "err", err)
			continue
		}

		// The frame buffer is reused; the handler may keep the request.
		adu.Pdu.Data = append([]byte(nil), adu.Pdu.Data...)

		respPdu, err := handler(ctx, adu.SlaveID, adu.Pdu)
		if err != nil {
			slog.Error("Upstream handler failed", "err", err)
			respPdu = transport.ExceptionResponse(adu.Pdu, err)
		}
		if adu.SlaveID == broadcastID {
			continue
		}

		respAdu := &rtupacket.ApplicationDataUnit{SlaveID: adu.SlaveID, Pdu: respPdu}
		respRaw, err := respAdu.Encode()
		if err != nil {
			slog.Error("Failed to encode response", "err", err)
			continue
		}
		if _, err := port.Write(respRaw); err != nil {
			slog.Error("Failed to write response", "err", err)
		}
	}
}

func (s *Server) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// Close closes the serial port; a running Start returns.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
