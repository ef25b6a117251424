// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtu

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ffutop/modbuskit/modbus"
	rtupacket "github.com/ffutop/modbuskit/modbus/rtu"
)

type mockPort struct {
	io.Reader
	io.Writer
}

func (m *mockPort) Close() error { return nil }

func frame(t *testing.T, slaveID byte, pdu ...byte) []byte {
	t.Helper()
	adu := &rtupacket.ApplicationDataUnit{SlaveID: slaveID, Pdu: modbus.ProtocolDataUnit{FunctionCode: pdu[0], Data: pdu[1:]}}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return raw
}

func TestScanLoop(t *testing.T) {
	var input []byte
	input = append(input, frame(t, 1, 0x03, 0x00, 0x00, 0x00, 0x01)...)
	bad := frame(t, 1, 0x06, 0x00, 0x01, 0x00, 0x02)
	bad[len(bad)-1] ^= 0xFF
	input = append(input, bad...)
	input = append(input, frame(t, 2, 0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x11, 0x22, 0x33, 0x44)...)
	input = append(input, frame(t, 0, 0x06, 0x00, 0x01, 0x00, 0x02)...)

	writer := &bytes.Buffer{}
	port := &mockPort{Reader: bytes.NewReader(input), Writer: writer}

	var seen []byte
	handler := func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		seen = append(seen, slaveID)
		switch modbus.FunctionCode(pdu.FunctionCode) {
		case modbus.FuncCodeReadHoldingRegisters:
			return modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0xAA, 0xBB}}, nil
		case modbus.FuncCodeWriteMultipleRegisters:
			return modbus.ProtocolDataUnit{FunctionCode: 0x10, Data: pdu.Data[:4]}, nil
		}
		return pdu, nil
	}

	s := &Server{}
	if err := s.scanLoop(context.Background(), port, handler); err != nil {
		t.Fatalf("scanLoop() error = %v", err)
	}

	if want := []byte{1, 2, 0}; !bytes.Equal(seen, want) {
		t.Errorf("handler saw slaves %v, want %v", seen, want)
	}
	want := append(frame(t, 1, 0x03, 0x02, 0xAA, 0xBB), frame(t, 2, 0x10, 0x00, 0x01, 0x00, 0x02)...)
	if !bytes.Equal(writer.Bytes(), want) {
		t.Errorf("written = % X, want % X", writer.Bytes(), want)
	}
}

func TestScanLoop_HandlerError(t *testing.T) {
	writer := &bytes.Buffer{}
	port := &mockPort{Reader: bytes.NewReader(frame(t, 5, 0x01, 0x00, 0x00, 0x00, 0x08)), Writer: writer}

	s := &Server{}
	err := s.scanLoop(context.Background(), port, func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{}, errors.New("downstream gone")
	})
	if err != nil {
		t.Fatalf("scanLoop() error = %v", err)
	}
	if want := frame(t, 5, 0x81, 0x04); !bytes.Equal(writer.Bytes(), want) {
		t.Errorf("written = % X, want % X", writer.Bytes(), want)
	}
}

func TestServer_FunctionCodes(t *testing.T) {
	tests := []struct {
		name     string
		funcCode byte
		reqPDU   []byte // Func + Data
	}{
		{"ReadCoils", 0x01, []byte{0x01, 0x00, 0x00, 0x00, 0x01}},
		{"ReadDiscreteInputs", 0x02, []byte{0x02, 0x00, 0x00, 0x00, 0x10}},
		{"ReadInputRegisters", 0x04, []byte{0x04, 0x00, 0x00, 0x00, 0x02}},
		{"WriteSingleCoil", 0x05, []byte{0x05, 0x00, 0x00, 0xFF, 0x00}},
		{"WriteSingleRegister", 0x06, []byte{0x06, 0x00, 0x00, 0xAA, 0xBB}},
		{"WriteMultipleCoils", 0x0F, []byte{0x0F, 0x00, 0x13, 0x00, 0x0A, 0x02, 0xCD, 0x01}},
		{"WriteMultipleRegisters", 0x10, []byte{0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x11, 0x22, 0x33, 0x44}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &mockPort{Reader: bytes.NewReader(frame(t, 1, tt.reqPDU...)), Writer: io.Discard}

			var got modbus.ProtocolDataUnit
			calls := 0
			s := &Server{}
			s.scanLoop(context.Background(), port, func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
				calls++
				got = pdu
				return modbus.ProtocolDataUnit{FunctionCode: tt.funcCode}, nil
			})

			if calls != 1 {
				t.Fatalf("handler called %d times, want 1", calls)
			}
			if got.FunctionCode != tt.funcCode || !bytes.Equal(got.Data, tt.reqPDU[1:]) {
				t.Errorf("handler got %+v, want % X", got, tt.reqPDU)
			}
		})
	}
}

func TestScanLoop_UnsupportedFunctionLogged(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	writer := &bytes.Buffer{}
	input := []byte{0x07, 0x2B, 0x0E, 0x01, 0x00, 0x00, 0x00, 0x00}
	port := &mockPort{Reader: bytes.NewReader(input), Writer: writer}

	s := &Server{}
	err := s.scanLoop(context.Background(), port, func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		t.Errorf("handler called for slave %d", slaveID)
		return pdu, nil
	})
	if err != nil {
		t.Fatalf("scanLoop() error = %v", err)
	}
	if writer.Len() != 0 {
		t.Errorf("written = % X, want nothing", writer.Bytes())
	}
	out := logs.String()
	if !strings.Contains(out, "unsupported function code") || !strings.Contains(out, "slaveID=7") {
		t.Errorf("log = %q, want the dropped function code and slave", out)
	}
}
