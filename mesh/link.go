// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/creachadair/chaincall"
	"github.com/creachadair/chaincall/wire"
	"github.com/creachadair/taskgroup"
)

// A Link joins a local node to a single remote node over a packet
// channel. It implements chaincall.Transport by framing envelopes as
// call and result packets; the target node ID is not interpreted, since
// a link has exactly one remote endpoint.
//
// Construct the link, start the node with the link as its transport,
// then call Start to begin routing inbound packets to the node:
//
//	lnk := mesh.NewLink(ch)
//	node := chaincall.NewNode(opts).Start(lnk)
//	lnk.Start(node)
type Link struct {
	ch wire.Channel

	μ     sync.Mutex
	tasks *taskgroup.Group
}

// NewLink constructs an unstarted link over ch.
func NewLink(ch wire.Channel) *Link { return &Link{ch: ch} }

// Deliver implements a method of the [chaincall.Transport] interface.
func (l *Link) Deliver(_ context.Context, _ chaincall.NodeID, env *chaincall.Envelope) error {
	ptype := wire.PacketCall
	if env.Result != nil {
		ptype = wire.PacketResult
	}
	return l.ch.Send(&wire.Packet{Type: ptype, Payload: env.Encode()})
}

// Start begins the link's receive loop, pushing inbound envelopes to n.
// Start does not block; call Wait to wait for the loop to exit.
func (l *Link) Start(n *chaincall.Node) *Link {
	l.μ.Lock()
	defer l.μ.Unlock()
	if l.tasks != nil {
		panic("link is already started")
	}
	g := taskgroup.New(nil)
	l.tasks = g
	g.Go(func() error {
		for {
			pkt, err := l.ch.Recv()
			if err != nil {
				if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			switch pkt.Type {
			case wire.PacketCall, wire.PacketResult:
				env, err := chaincall.DecodeEnvelope(pkt.Payload)
				if err != nil {
					return fmt.Errorf("inbound packet: %w", err)
				}
				if err := n.Push(env); err != nil {
					return err
				}
			default:
				// Unrecognized packet types are discarded.
			}
		}
	})
	return l
}

// Close closes the underlying channel, which ends the receive loop.
func (l *Link) Close() error { return l.ch.Close() }

// Wait blocks until the receive loop has exited and reports the error
// that ended it, if any.
func (l *Link) Wait() error {
	l.μ.Lock()
	g := l.tasks
	l.μ.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}
