// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goburrow/modbus"
)

func TestPersistence(t *testing.T) {
	for _, storage := range []string{"file", "mmap"} {
		t.Run(storage, func(t *testing.T) {
			dataPath := filepath.Join(t.TempDir(), "slave.dat")
			configContent := fmt.Sprintf(`
servers:
  - name: persist
    upstreams:
      - type: tcp
        tcp:
          address: 127.0.0.1:0
    units:
      - name: local-db
        type: local
        slave_ids: "1"
        local:
          persistence:
            type: %s
            path: %s
`, storage, dataPath)

			t.Log("Run 1: writing 0xCAFE to register 10")
			run(t, configContent, func(client modbus.Client) {
				if _, err := client.WriteSingleRegister(10, 0xCAFE); err != nil {
					t.Fatalf("WriteSingleRegister() error = %v", err)
				}
			})

			if _, err := os.Stat(dataPath); err != nil {
				t.Fatalf("persistence file was not created: %v", err)
			}

			t.Log("Run 2: reading register 10")
			run(t, configContent, func(client modbus.Client) {
				results, err := client.ReadHoldingRegisters(10, 1)
				if err != nil {
					t.Fatalf("ReadHoldingRegisters() error = %v", err)
				}
				if v := uint16(results[0])<<8 | uint16(results[1]); v != 0xCAFE {
					t.Errorf("register 10 = %#x, want 0xcafe", v)
				}
			})
		})
	}
}

// run serves configContent, hands a connected client to fn and shuts the
// server down before returning.
func run(t *testing.T, configContent string, fn func(modbus.Client)) {
	t.Helper()
	address, stop := serve(t, configContent)
	defer stop()

	handler := modbus.NewTCPClientHandler(address)
	handler.SlaveId = 1
	handler.Timeout = 2 * time.Second
	if err := handler.Connect(); err != nil {
		t.Fatal(err)
	}
	defer handler.Close()
	fn(modbus.NewClient(handler))
}
