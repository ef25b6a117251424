// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package router

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ffutop/modbuskit/internal/config"
	"github.com/ffutop/modbuskit/modbus"
	"github.com/ffutop/modbuskit/transport"
	"github.com/ffutop/modbuskit/transport/local"
	"github.com/ffutop/modbuskit/transport/tcp"
)

func TestParseSlaveIDs(t *testing.T) {
	tests := []struct {
		input   string
		want    []byte
		wantErr bool
	}{
		{input: "1", want: []byte{1}},
		{input: "1,2", want: []byte{1, 2}},
		{input: " 3 - 5 , 9", want: []byte{3, 4, 5, 9}},
		{input: "0-0", want: []byte{0}},
		{input: "250-255", want: []byte{250, 251, 252, 253, 254, 255}},
		{input: "", wantErr: true},
		{input: "5-3", wantErr: true},
		{input: "256", wantErr: true},
		{input: "1-2-3", wantErr: true},
		{input: "a", wantErr: true},
		{input: "-1", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSlaveIDs(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSlaveIDs(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseSlaveIDs(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

type fakeDownstream struct {
	name     string
	err      error
	mu       sync.Mutex
	slaves   []byte
	deadline bool
	connects int
	closes   int
}

func (f *fakeDownstream) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slaves = append(f.slaves, slaveID)
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return modbus.ProtocolDataUnit{}, f.err
	}
	return modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode, Data: []byte(f.name)}, nil
}

func (f *fakeDownstream) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeDownstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func TestRouter_Handle(t *testing.T) {
	a := &fakeDownstream{name: "a"}
	b := &fakeDownstream{name: "b"}
	r := New("test", nil, map[byte]transport.Downstream{1: a, 2: a, 7: b}, nil)
	req := modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0, 0, 0, 1}}

	for _, tc := range []struct {
		slaveID byte
		want    string
	}{{1, "a"}, {2, "a"}, {7, "b"}} {
		resp, err := r.Handle(context.Background(), tc.slaveID, req)
		if err != nil {
			t.Fatalf("Handle(%d) error = %v", tc.slaveID, err)
		}
		if string(resp.Data) != tc.want {
			t.Errorf("Handle(%d) routed to %q, want %q", tc.slaveID, resp.Data, tc.want)
		}
	}
	if !reflect.DeepEqual(a.slaves, []byte{1, 2}) {
		t.Errorf("downstream a saw %v", a.slaves)
	}
	if !a.deadline {
		t.Error("forwarded request carries no deadline")
	}

	_, err := r.Handle(context.Background(), 9, req)
	if !errors.Is(err, modbus.ExceptionCodeGatewayPathUnavailable) {
		t.Errorf("Handle(unknown) error = %v, want %v", err, modbus.ExceptionCodeGatewayPathUnavailable)
	}
	resp := transport.ExceptionResponse(req, err)
	if resp.FunctionCode != 0x83 || !bytes.Equal(resp.Data, []byte{0x0A}) {
		t.Errorf("ExceptionResponse() = %+v, want 83 0A", resp)
	}

	r.DefaultRoute = b
	resp, err = r.Handle(context.Background(), 9, req)
	if err != nil || string(resp.Data) != "b" {
		t.Errorf("Handle(default) = %q, %v", resp.Data, err)
	}
}

func TestRouter_HandleDownstreamError(t *testing.T) {
	boom := errors.New("boom")
	r := New("test", nil, map[byte]transport.Downstream{1: &fakeDownstream{err: boom}}, nil)
	if _, err := r.Handle(context.Background(), 1, modbus.ProtocolDataUnit{FunctionCode: 0x03}); !errors.Is(err, boom) {
		t.Errorf("Handle() error = %v, want %v", err, boom)
	}
}

type fakeUpstream struct {
	started chan transport.RequestHandler
	closed  chan struct{}
	once    sync.Once
}

func (f *fakeUpstream) Start(ctx context.Context, handler transport.RequestHandler) error {
	f.started <- handler
	<-f.closed
	return nil
}

func (f *fakeUpstream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func TestRouter_Start(t *testing.T) {
	ds := &fakeDownstream{name: "a"}
	us := &fakeUpstream{started: make(chan transport.RequestHandler, 1), closed: make(chan struct{})}
	r := New("test", []transport.Upstream{us}, map[byte]transport.Downstream{1: ds, 2: ds}, ds)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	select {
	case handler := <-us.started:
		resp, err := handler(ctx, 2, modbus.ProtocolDataUnit{FunctionCode: 0x01})
		if err != nil || string(resp.Data) != "a" {
			t.Errorf("handler() = %+v, %v", resp, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upstream not started")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
	if ds.connects != 1 || ds.closes != 1 {
		t.Errorf("downstream connects = %d, closes = %d, want 1 and 1", ds.connects, ds.closes)
	}
}

type slowDownstream struct {
	started        chan struct{}
	inFlight       atomic.Int32
	closedInFlight atomic.Bool
	closes         atomic.Int32
}

func (f *slowDownstream) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	close(f.started)
	time.Sleep(300 * time.Millisecond)
	return pdu, nil
}

func (f *slowDownstream) Connect(ctx context.Context) error { return nil }

func (f *slowDownstream) Close() error {
	if f.inFlight.Load() > 0 {
		f.closedInFlight.Store(true)
	}
	f.closes.Add(1)
	return nil
}

func TestRouter_StartDrainsRequests(t *testing.T) {
	ds := &slowDownstream{started: make(chan struct{})}
	srv := tcp.NewServer("127.0.0.1:0")
	r := New("drain", []transport.Upstream{srv}, map[byte]transport.Downstream{1: ds}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("tcp upstream not listening")
		}
		time.Sleep(10 * time.Millisecond)
	}

	client := tcp.NewClient(srv.Addr().String())
	defer client.Close()
	go client.Send(context.Background(), 1, modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x01}})
	select {
	case <-ds.started:
	case <-time.After(2 * time.Second):
		t.Fatal("request not forwarded")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
	if n := ds.inFlight.Load(); n != 0 {
		t.Errorf("Start() returned with %d requests in flight", n)
	}
	if ds.closedInFlight.Load() {
		t.Error("downstream closed while a request was in flight")
	}
	if n := ds.closes.Load(); n != 1 {
		t.Errorf("downstream closed %d times, want 1", n)
	}
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.ServerConfig{
		Name:      "plant",
		Upstreams: []config.UpstreamConfig{{Type: "tcp", Tcp: config.TcpConfig{Address: "127.0.0.1:0"}}},
		Units: []config.UnitConfig{
			{Name: "meters", Type: "local", SlaveIDs: "1-3", Local: config.LocalConfig{
				Persistence: config.PersistenceConfig{Type: "file", Path: filepath.Join(dir, "meters.bin")},
			}},
			{Name: "rest", Type: "local", SlaveIDs: "*"},
		},
	}

	r, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if len(r.Upstreams) != 1 || len(r.Routes) != 3 || r.DefaultRoute == nil {
		t.Fatalf("router = %+v", r)
	}
	if r.Routes[1] != r.Routes[3] {
		t.Error("slave ids of one unit map to different downstreams")
	}
	if _, ok := r.Routes[1].(*local.Client); !ok {
		t.Errorf("route 1 = %T, want *local.Client", r.Routes[1])
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	srv := r.Upstreams[0].(*tcp.Server)
	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("tcp upstream not listening")
		}
		time.Sleep(10 * time.Millisecond)
	}

	client := tcp.NewClient(srv.Addr().String())
	write := modbus.ProtocolDataUnit{FunctionCode: 0x06, Data: []byte{0x00, 0x05, 0xCA, 0xFE}}
	if _, err := client.Send(context.Background(), 2, write); err != nil {
		t.Fatalf("write error = %v", err)
	}
	read := modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x05, 0x00, 0x01}}
	resp, err := client.Send(context.Background(), 3, read)
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{0x02, 0xCA, 0xFE}) {
		t.Errorf("read from shared unit = % X", resp.Data)
	}
	resp, err = client.Send(context.Background(), 100, read)
	if err != nil {
		t.Fatalf("read default error = %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{0x02, 0x00, 0x00}) {
		t.Errorf("read from default unit = % X", resp.Data)
	}
}

func TestFromConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ServerConfig
	}{
		{"UnknownUpstream", config.ServerConfig{Upstreams: []config.UpstreamConfig{{Type: "udp"}}}},
		{"BadSlaveIDs", config.ServerConfig{Units: []config.UnitConfig{{Type: "local", SlaveIDs: "x"}}}},
		{"DuplicateSlaveID", config.ServerConfig{Units: []config.UnitConfig{
			{Type: "local", SlaveIDs: "1-4"},
			{Type: "local", SlaveIDs: "4"},
		}}},
		{"TwoDefaults", config.ServerConfig{Units: []config.UnitConfig{
			{Type: "local", SlaveIDs: "*"},
			{Type: "local", SlaveIDs: "*"},
		}}},
		{"UnknownUnit", config.ServerConfig{Units: []config.UnitConfig{{Type: "ascii", SlaveIDs: "1"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromConfig(tt.cfg); err == nil {
				t.Error("FromConfig() error = nil")
			}
		})
	}
}
