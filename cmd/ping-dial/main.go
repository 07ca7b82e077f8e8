// Command ping-dial dials a single peer, runs one ping round trip, and
// reports success or failure (spec §7, "User-visible": a CLI a user can
// point at a multiaddr to exercise the full upgrade pipeline).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/p2p/config"
	"github.com/Pier-Two/libp2p-c/p2p/net/upgrader"
	"github.com/Pier-Two/libp2p-c/p2p/protocol/ping"

	ma "github.com/multiformats/go-multiaddr"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: ping-dial /ip4/<addr>/tcp/<port>/p2p/<peer-id>")
		os.Exit(1)
	}

	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "ping-dial:", humanize(err))
		os.Exit(1)
	}
}

func run(arg string) error {
	full, err := ma.NewMultiaddr(arg)
	if err != nil {
		return fmt.Errorf("parse multiaddr: %w", err)
	}
	idStr, err := full.ValueForProtocol(ma.P_P2P)
	if err != nil {
		return fmt.Errorf("multiaddr has no /p2p/<peer-id> component: %w", err)
	}
	remote, err := peer.Decode(idStr)
	if err != nil {
		return fmt.Errorf("decode peer id: %w", err)
	}
	transportAddr, _ := ma.SplitLast(full)

	cfg := &config.Config{}
	if err := cfg.Apply(); err != nil {
		return fmt.Errorf("build config: %w", err)
	}
	n, err := cfg.NewNode()
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}
	defer n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
	defer cancel()

	if err := n.Connect(ctx, transportAddr, remote); err != nil {
		return err
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), ping.Timeout)
	defer pingCancel()

	start := time.Now()
	res := ping.Ping(pingCtx, n, remote)
	if res.Error != nil {
		return fmt.Errorf("ping: %w", res.Error)
	}
	fmt.Printf("PONG from %s in %s (wall %s)\n", remote, res.RTT, time.Since(start))
	return nil
}

// humanize renders an upgrader.Error's Kind as the short, stable string
// spec §7 asks a caller be able to rely on, falling back to err.Error() for
// anything else.
func humanize(err error) string {
	var uerr *upgrader.Error
	if errors.As(err, &uerr) {
		return fmt.Sprintf("%s: %v", uerr.Kind, uerr.Err)
	}
	return err.Error()
}
