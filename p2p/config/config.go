// Package config assembles a node.Node from functional options, mirroring
// the Option/Config pattern the teacher's libp2p.go and defaults.go use,
// trimmed to the knobs spec §6 actually names.
package config

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/Pier-Two/libp2p-c/core/crypto"
	"github.com/Pier-Two/libp2p-c/core/network"
	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/core/sec"
	"github.com/Pier-Two/libp2p-c/core/transport"
	"github.com/Pier-Two/libp2p-c/p2p/muxer/mplex"
	"github.com/Pier-Two/libp2p-c/p2p/muxer/yamux"
	"github.com/Pier-Two/libp2p-c/p2p/net/node"
	tcptransport "github.com/Pier-Two/libp2p-c/p2p/net/transport/tcp"
	"github.com/Pier-Two/libp2p-c/p2p/net/upgrader"
	"github.com/Pier-Two/libp2p-c/p2p/protocol/noise"
)

// Config collects every tunable this module's connection-upgrade pipeline
// exposes (spec §6). Zero value plus Apply(Defaults) gives a usable node.
type Config struct {
	PrivateKey crypto.PrivKey

	HandshakeTimeout time.Duration

	YamuxInitialWindow     uint32
	YamuxKeepAliveInterval time.Duration

	MplexMaxFrameBytes      int
	MplexMaxInboundBuffered int

	Transport transport.Transport
}

// Option mutates a Config under construction.
type Option func(*Config) error

// WithPrivateKey sets the node's static identity keypair.
func WithPrivateKey(k crypto.PrivKey) Option {
	return func(c *Config) error {
		c.PrivateKey = k
		return nil
	}
}

// WithHandshakeTimeout overrides the default 30s upgrade deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.HandshakeTimeout = d
		return nil
	}
}

// WithYamuxInitialWindow overrides the default 256 KiB yamux window.
func WithYamuxInitialWindow(n uint32) Option {
	return func(c *Config) error {
		c.YamuxInitialWindow = n
		return nil
	}
}

// WithYamuxKeepAliveInterval overrides the default 30s yamux keepalive.
func WithYamuxKeepAliveInterval(d time.Duration) Option {
	return func(c *Config) error {
		c.YamuxKeepAliveInterval = d
		return nil
	}
}

// WithMplexMaxFrameBytes overrides the default 1 MiB mplex frame ceiling.
func WithMplexMaxFrameBytes(n int) Option {
	return func(c *Config) error {
		c.MplexMaxFrameBytes = n
		return nil
	}
}

// WithTransport overrides the default TCP transport.
func WithTransport(t transport.Transport) Option {
	return func(c *Config) error {
		c.Transport = t
		return nil
	}
}

// Defaults fills in every field Apply would otherwise leave zero: a fresh
// Ed25519 identity, 30s handshake timeout, 256 KiB/30s yamux, 1 MiB/4 MiB
// mplex, plain TCP (spec §6).
func Defaults(c *Config) error {
	if c.PrivateKey == nil {
		k, _, err := crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return fmt.Errorf("config: generate identity: %w", err)
		}
		c.PrivateKey = k
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = upgrader.DefaultHandshakeTimeout
	}
	if c.YamuxInitialWindow == 0 {
		c.YamuxInitialWindow = yamux.DefaultConfig().InitialWindow
	}
	if c.YamuxKeepAliveInterval == 0 {
		c.YamuxKeepAliveInterval = yamux.DefaultConfig().KeepAliveInterval
	}
	if c.MplexMaxFrameBytes == 0 {
		c.MplexMaxFrameBytes = mplex.DefaultConfig().MaxFrameBytes
	}
	if c.MplexMaxInboundBuffered == 0 {
		c.MplexMaxInboundBuffered = mplex.DefaultConfig().MaxInboundBuffered
	}
	if c.Transport == nil {
		t, err := tcptransport.New()
		if err != nil {
			return fmt.Errorf("config: default transport: %w", err)
		}
		c.Transport = t
	}
	return nil
}

// Apply runs Defaults first, then each opt over the result in order, so
// explicit options always win over the fallback.
func (c *Config) Apply(opts ...Option) error {
	if err := Defaults(c); err != nil {
		return err
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

// NewNode builds the node.Node this Config describes: identity, transport,
// and an upgrader proposing Noise for security and yamux-then-mplex for
// multiplexing (spec §6, "ordered Security[]/Muxers[] lists").
func (c *Config) NewNode() (*node.Node, error) {
	id, err := peer.IDFromPublicKey(c.PrivateKey.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("config: derive peer id: %w", err)
	}

	noiseTpt, err := noise.New(id, c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("config: noise transport: %w", err)
	}

	yamuxTpt := &yamux.Transport{Config: yamux.Config{
		InitialWindow:     c.YamuxInitialWindow,
		KeepAliveInterval: c.YamuxKeepAliveInterval,
	}}
	mplexTpt := &mplex.Transport{Config: mplex.Config{
		MaxFrameBytes:      c.MplexMaxFrameBytes,
		MaxInboundBuffered: c.MplexMaxInboundBuffered,
	}}

	up := upgrader.New(
		[]sec.SecureTransport{noiseTpt},
		[]network.Multiplexer{yamuxTpt, mplexTpt},
	)
	up.HandshakeTimeout = c.HandshakeTimeout

	return node.New(id, c.PrivateKey, c.Transport, up), nil
}
