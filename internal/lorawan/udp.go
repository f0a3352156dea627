package lorawan

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
)

type udpConn interface {
	Write([]byte) (int, error)
	Close() error
}

type resolveUDPAddrFunc func(network, address string) (*net.UDPAddr, error)
type dialUDPFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// UDPModem is a bench stand-in for a radio: joins succeed at once and each
// uplink goes out as one datagram carrying the raw payload.
type UDPModem struct {
	dest   string
	devEUI string
	conn   udpConn

	mu     sync.Mutex
	joined bool
	dr     int
}

func DialUDP(dest, devEUI string) (*UDPModem, error) {
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	}
	return newUDPModem(dest, devEUI, net.ResolveUDPAddr, dial)
}

func newUDPModem(dest, devEUI string, resolve resolveUDPAddrFunc, dial dialUDPFunc) (*UDPModem, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("lorawan: resolve %s: %w", dest, err)
	}
	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("lorawan: dial udp: %w", err)
	}
	if devEUI == "" {
		devEUI = "0000000000000000"
	}
	log.Printf("lorawan: udp bench modem dest=%s", dest)
	return &UDPModem{dest: dest, devEUI: devEUI, conn: conn}, nil
}

func (u *UDPModem) DevEUI(context.Context) (string, error) { return u.devEUI, nil }

func (u *UDPModem) JoinOTAA(context.Context, string, string) error {
	u.mu.Lock()
	u.joined = true
	u.mu.Unlock()
	return nil
}

func (u *UDPModem) Joined(context.Context) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.joined, nil
}

func (u *UDPModem) ActivateABP(context.Context, string, string, string) error {
	u.mu.Lock()
	u.joined = true
	u.mu.Unlock()
	return nil
}

func (u *UDPModem) SetDataRate(_ context.Context, dr int) error {
	u.mu.Lock()
	u.dr = dr
	u.mu.Unlock()
	return nil
}

func (u *UDPModem) Send(_ context.Context, _ int, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := u.conn.Write(payload)
	return err
}

func (u *UDPModem) Close() error {
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}
