// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler serves one function code. It receives the decoded request and
// returns either a Response (success) or an error (failure). An
// ExceptionCode error is sent to the peer as is; any other error is logged
// and answered with ExceptionCodeServerDeviceFailure.
type Handler func(ctx context.Context, req Request) (Response, error)

// ServerStats counts the requests seen by a Server.
type ServerStats struct {
	Requests   uint64
	Exceptions uint64
	// ByFunction counts requests per function code, as received.
	ByFunction map[FunctionCode]uint64
}

// Server is the server side dispatch pipeline. It owns the handler
// registry; handlers may be added or replaced at any time.
type Server struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[FunctionCode]Handler

	requests   atomic.Uint64
	exceptions atomic.Uint64
	byFunction [256]atomic.Uint64
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger used for dispatch diagnostics.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a Server without handlers. Every supported request is
// answered with ExceptionCodeIllegalFunction until a handler is added.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		logger:   slog.Default(),
		handlers: make(map[FunctionCode]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddHandler registers h for fc, replacing any previous handler.
// A nil handler removes the registration.
func (s *Server) AddHandler(fc FunctionCode, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		delete(s.handlers, fc)
		return
	}
	s.handlers[fc] = h
}

func (s *Server) handler(fc FunctionCode) Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[fc]
}

// Handle runs one request PDU through decode, dispatch and encode and
// returns the response PDU. Every non-empty request yields exactly one
// response, normal or exception. An empty buffer returns ErrShortPDU and no
// response.
func (s *Server) Handle(ctx context.Context, pdu []byte) ([]byte, error) {
	if len(pdu) < 1 {
		return nil, ErrShortPDU
	}
	s.requests.Add(1)
	fc := FunctionCode(pdu[0])
	s.byFunction[fc].Add(1)

	c, ok := codecs[fc]
	if !ok {
		s.logger.Debug("Unsupported function code", "func", fc)
		return s.exception(fc, ExceptionCodeIllegalFunction), nil
	}

	req, err := c.decodeRequest(pdu)
	if err != nil {
		var code ExceptionCode
		if !errors.As(err, &code) {
			s.logger.Warn("Malformed request", "func", fc, "pdu", hex.EncodeToString(pdu), "err", err)
			code = ExceptionCodeIllegalDataValue
		}
		return s.exception(fc, code), nil
	}

	h := s.handler(fc)
	if h == nil {
		s.logger.Debug("No handler registered", "func", fc)
		return s.exception(fc, ExceptionCodeIllegalFunction), nil
	}

	resp, err := s.call(ctx, fc, h, req)
	if err != nil {
		var code ExceptionCode
		if !errors.As(err, &code) {
			s.logger.Error("Handler failed", "func", fc, "err", err)
			code = ExceptionCodeServerDeviceFailure
		}
		return s.exception(fc, code), nil
	}

	out, err := c.encodeResponse(fc, resp)
	if err != nil {
		s.logger.Error("Failed to encode response", "func", fc, "err", err)
		return s.exception(fc, ExceptionCodeServerDeviceFailure), nil
	}
	return out, nil
}

// call runs h, turning a panic into an error so it is answered as a device
// failure.
func (s *Server) call(ctx context.Context, fc FunctionCode, h Handler, req Request) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Handler panicked", "func", fc, "panic", r)
			resp, err = nil, fmt.Errorf("modbus: handler panic: %v", r)
		}
	}()
	return h(ctx, req)
}

// ServePDU adapts Handle to the transport request handler signature.
// The slave ID is not interpreted; routing by unit happens above.
func (s *Server) ServePDU(ctx context.Context, slaveID byte, pdu ProtocolDataUnit) (ProtocolDataUnit, error) {
	out, err := s.Handle(ctx, pdu.Bytes())
	if err != nil {
		return ProtocolDataUnit{}, err
	}
	return ParsePDU(out)
}

// Stats returns a snapshot of the request counters.
func (s *Server) Stats() ServerStats {
	stats := ServerStats{
		Requests:   s.requests.Load(),
		Exceptions: s.exceptions.Load(),
		ByFunction: make(map[FunctionCode]uint64),
	}
	for fc := range s.byFunction {
		if n := s.byFunction[fc].Load(); n > 0 {
			stats.ByFunction[FunctionCode(fc)] = n
		}
	}
	return stats
}

func (s *Server) exception(fc FunctionCode, code ExceptionCode) []byte {
	s.exceptions.Add(1)
	s.logger.Debug("Exception response", "func", fc, "exception", code)
	return EncodeException(fc, code)
}
