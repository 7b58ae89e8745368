// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package wire

import (
	"bufio"
	"io"
	"sync"
)

// IO returns a Channel that reads packets from r and writes them to wc.
// Sends are serialized, so multiple goroutines may deliver over the same
// channel without interleaving frame bytes on the writer.
func IO(r io.Reader, wc io.WriteCloser) Channel {
	return &ioChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

type ioChannel struct {
	r *bufio.Reader
	c io.Closer

	μ sync.Mutex // guards w
	w *bufio.Writer
}

// Send implements a method of the [Channel] interface. Each packet is
// flushed before Send returns.
func (c *ioChannel) Send(pkt *Packet) error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if _, err := pkt.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [Channel] interface. It blocks until a
// full packet arrives, and reports io.EOF if the stream ends cleanly
// between packets.
func (c *ioChannel) Recv() (*Packet, error) {
	var pkt Packet
	if _, err := pkt.ReadFrom(c.r); err != nil {
		return nil, err
	}
	return &pkt, nil
}

// Close implements a method of the [Channel] interface. It closes the
// write side only; the read side belongs to the peer.
func (c *ioChannel) Close() error { return c.c.Close() }
