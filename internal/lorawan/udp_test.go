package lorawan

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestNewUDPModem_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}

	u, err := newUDPModem("127.0.0.1:1700", "", net.ResolveUDPAddr, dial)
	if err != nil {
		t.Fatalf("newUDPModem() error: %v", err)
	}
	defer u.Close()

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want udp", gotNetwork)
	}
	if gotRaddr == nil || gotRaddr.Port != 1700 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:1700", gotRaddr)
	}
	if eui, _ := u.DevEUI(context.Background()); eui != "0000000000000000" {
		t.Fatalf("dev eui=%q", eui)
	}
}

func TestNewUDPModem_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) { return nil, resolveErr }
	dial := func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) { return &fakeConn{}, nil }

	_, err := newUDPModem("bad:addr", "", resolve, dial)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestUDPModem_JoinsAndSends(t *testing.T) {
	fc := &fakeConn{}
	u := &UDPModem{devEUI: "AABB", conn: fc}
	ctx := context.Background()

	if ok, _ := u.Joined(ctx); ok {
		t.Fatalf("joined before join request")
	}
	if err := u.JoinOTAA(ctx, "x", "y"); err != nil {
		t.Fatalf("JoinOTAA: %v", err)
	}
	if ok, _ := u.Joined(ctx); !ok {
		t.Fatalf("not joined after join request")
	}

	if err := u.Send(ctx, 2, nil); err != nil || fc.writeHits != 0 {
		t.Fatalf("empty send err=%v writes=%d", err, fc.writeHits)
	}
	p := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	if err := u.Send(ctx, 2, p); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fc.writes) != 1 || string(fc.writes[0]) != string(p) {
		t.Fatalf("writes=%v", fc.writes)
	}

	wantErr := errors.New("boom")
	fc.writeErr = wantErr
	if err := u.Send(ctx, 2, p); !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
}

func TestUDPModem_Close_NilConnNoPanic(t *testing.T) {
	u := &UDPModem{}
	if err := u.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestUDPModem_JoinerEndToEnd(t *testing.T) {
	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("udp listen unavailable: %v", err)
	}
	defer ln.Close()

	u, err := DialUDP(ln.LocalAddr().String(), "70B3D5499C1A2B3C")
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer u.Close()

	h, err := NewJoiner(u, Config{}, nil).Join(context.Background(), Request{Mode: OTAA, Credentials: otaaCreds})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	p := []byte{0xC4, 0x6E, 0xF9, 0x88, 0x30, 0x8B, 0x02, 0x21, 0x09}
	if n, err := h.Send(context.Background(), p); err != nil || n != len(p) {
		t.Fatalf("Send n=%d err=%v", n, err)
	}

	_ = ln.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := ln.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if string(buf[:n]) != string(p) {
		t.Fatalf("datagram=%X want %X", buf[:n], p)
	}
}
