// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
)

// ErrRequestInFlight is returned by Expect while a previous request is
// still waiting for its response.
var ErrRequestInFlight = errors.New("modbus: request already in flight")

// Continuation receives the outcome of a request: a decoded Result, or an
// error. Exception responses are delivered as *Error.
type Continuation func(Result, error)

type pendingRequest struct {
	fc   FunctionCode
	cont Continuation
}

// Client is the client side response pipeline. Responses carry no request
// identifier, so a Client tracks at most one outstanding request; callers
// that pipeline requests must correlate them above this layer.
type Client struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending *pendingRequest
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger used for unhandled responses.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client with no request in flight.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Expect registers cont as the continuation of the request just sent with
// function code fc.
func (c *Client) Expect(fc FunctionCode, cont Continuation) error {
	if cont == nil {
		return errors.New("modbus: nil continuation")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return ErrRequestInFlight
	}
	c.pending = &pendingRequest{fc: fc, cont: cont}
	return nil
}

// Cancel drops the pending continuation without invoking it. It reports
// whether a request was pending.
func (c *Client) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok := c.pending != nil
	c.pending = nil
	return ok
}

// Pending reports whether a request is waiting for its response.
func (c *Client) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// HandleResponse decodes a response PDU and invokes the continuation of the
// pending request. Responses that cannot be matched to the pending request,
// or whose function code has no decoder, are logged and dropped.
func (c *Client) HandleResponse(pdu []byte) {
	if len(pdu) < 1 {
		c.logger.Warn("Empty response dropped")
		return
	}
	fc := FunctionCode(pdu[0])
	codec, ok := codecs[fc.Base()]
	if !ok {
		c.logger.Warn("Unhandled response", "func", fc, "pdu", hex.EncodeToString(pdu))
		return
	}

	p := c.take(fc.Base())
	if p == nil {
		c.logger.Warn("Response does not match a pending request", "func", fc, "pdu", hex.EncodeToString(pdu))
		return
	}

	if fc.IsException() {
		if len(pdu) < 2 {
			p.cont(nil, shortPDU(fc, len(pdu), 2))
			return
		}
		p.cont(nil, &Error{FunctionCode: fc, ExceptionCode: ExceptionCode(pdu[1])})
		return
	}

	result, err := codec.decodeResponse(pdu)
	if err != nil {
		p.cont(nil, err)
		return
	}
	p.cont(result, nil)
}

// take removes and returns the pending request if it was sent with fc.
func (c *Client) take(fc FunctionCode) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	if p == nil || p.fc != fc {
		return nil
	}
	c.pending = nil
	return p
}
