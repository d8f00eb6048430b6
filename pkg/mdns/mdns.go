// Package mdns makes a running status server discoverable on the local
// network. The serve command answers multicast DNS queries for a host
// name, and clients resolve that name without touching the system
// resolver.
package mdns

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"
)

// DefaultName is the host name the status server answers to.
const DefaultName = "msdflash.local"

func listen() (*ipv4.PacketConn, error) {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return nil, fmt.Errorf("resolve mdns address: %w", err)
	}
	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		return nil, fmt.Errorf("listen mdns: %w", err)
	}
	return ipv4.NewPacketConn(l4), nil
}

// Announce starts answering multicast DNS queries for name, or
// DefaultName when empty. The returned stop closes the responder.
func Announce(name string) (stop func(), err error) {
	if name == "" {
		name = DefaultName
	}
	pc, err := listen()
	if err != nil {
		return nil, err
	}
	conn, err := mdns.Server(pc, nil, &mdns.Config{
		LocalNames: []string{name},
	})
	if err != nil {
		return nil, fmt.Errorf("mdns responder: %w", err)
	}
	return func() { conn.Close() }, nil
}

// Lookup resolves a .local host name over multicast DNS with a
// transient querier.
func Lookup(ctx context.Context, name string) (netip.Addr, error) {
	pc, err := listen()
	if err != nil {
		return netip.Addr{}, err
	}
	conn, err := mdns.Server(pc, nil, &mdns.Config{})
	if err != nil {
		return netip.Addr{}, fmt.Errorf("mdns querier: %w", err)
	}
	defer conn.Close()
	_, src, err := conn.QueryAddr(ctx, name)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("query %s: %w", name, err)
	}
	if !src.IsValid() {
		return netip.Addr{}, fmt.Errorf("no answer for %s", name)
	}
	return src, nil
}
