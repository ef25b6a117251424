// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/tbrandon/mbserver"

	"github.com/ffutop/modbuskit/internal/config"
	"github.com/ffutop/modbuskit/internal/router"
	"github.com/ffutop/modbuskit/transport/tcp"
)

// serve loads a config document, builds its first server and serves it
// until stop is called. It returns the address of the first upstream.
func serve(t *testing.T, configContent string) (address string, stop func()) {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	r, err := router.FromConfig(cfg.Servers[0])
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Start(ctx)
	}()
	stop = func() {
		cancel()
		<-done
	}

	srv := r.Upstreams[0].(*tcp.Server)
	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			stop()
			t.Fatal("server did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return srv.Addr().String(), stop
}

// startServer serves configContent until the test ends.
func startServer(t *testing.T, configContent string) string {
	t.Helper()
	address, stop := serve(t, configContent)
	t.Cleanup(stop)
	return address
}

// newTCPClient creates and connects a goburrow Modbus TCP client.
func newTCPClient(t *testing.T, address string, slaveID byte) modbus.Client {
	t.Helper()
	handler := modbus.NewTCPClientHandler(address)
	handler.Timeout = 2 * time.Second
	handler.SlaveId = slaveID
	if err := handler.Connect(); err != nil {
		t.Fatalf("failed to connect to %s: %v", address, err)
	}
	t.Cleanup(func() {
		handler.Close()
	})
	return modbus.NewClient(handler)
}

// freeAddress reserves a loopback port for servers that only accept an
// address string.
func freeAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func exceptionCode(err error) byte {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return mbErr.ExceptionCode
	}
	return 0
}

// TestForwardToRemoteSlave drives a remote mbserver slave through a tcp
// unit: goburrow client -> modbuskit -> mbserver.
func TestForwardToRemoteSlave(t *testing.T) {
	remote := mbserver.NewServer()
	remote.HoldingRegisters[0] = 12345
	remote.HoldingRegisters[1] = 54321
	remote.Coils[0] = 1
	remoteAddr := freeAddress(t)
	if err := remote.ListenTCP(remoteAddr); err != nil {
		t.Fatalf("failed to start remote slave: %v", err)
	}
	defer remote.Close()

	address := startServer(t, fmt.Sprintf(`
servers:
  - name: forward
    upstreams:
      - type: tcp
        tcp:
          address: 127.0.0.1:0
    units:
      - name: remote
        type: tcp
        slave_ids: "1"
        tcp:
          address: %s
log:
  level: debug
`, remoteAddr))
	client := newTCPClient(t, address, 1)

	results, err := client.ReadHoldingRegisters(0, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters() error = %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d bytes, want 4", len(results))
	}
	if v := uint16(results[0])<<8 | uint16(results[1]); v != 12345 {
		t.Errorf("register 0 = %d, want 12345", v)
	}
	if v := uint16(results[2])<<8 | uint16(results[3]); v != 54321 {
		t.Errorf("register 1 = %d, want 54321", v)
	}

	if _, err := client.WriteSingleRegister(10, 0xABCD); err != nil {
		t.Fatalf("WriteSingleRegister() error = %v", err)
	}
	results, err = client.ReadHoldingRegisters(10, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters() error = %v", err)
	}
	if v := uint16(results[0])<<8 | uint16(results[1]); v != 0xABCD {
		t.Errorf("register 10 = %#x, want 0xabcd", v)
	}

	coils, err := client.ReadCoils(0, 2)
	if err != nil {
		t.Fatalf("ReadCoils() error = %v", err)
	}
	if len(coils) != 1 || coils[0] != 0x01 {
		t.Errorf("ReadCoils() = % X, want 01", coils)
	}
}

// TestRemoteSlaveUnreachable checks that a dead downstream is reported
// as an exception instead of a dropped request.
func TestRemoteSlaveUnreachable(t *testing.T) {
	address := startServer(t, fmt.Sprintf(`
servers:
  - name: dead
    upstreams:
      - type: tcp
        tcp:
          address: 127.0.0.1:0
    units:
      - name: remote
        type: tcp
        slave_ids: "1"
        tcp:
          address: %s
`, freeAddress(t)))
	client := newTCPClient(t, address, 1)

	_, err := client.ReadHoldingRegisters(0, 1)
	if code := exceptionCode(err); code != 0x04 && code != 0x0B {
		t.Errorf("ReadHoldingRegisters() error = %v, want exception 4 or 11", err)
	}
}
