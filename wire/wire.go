// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package wire defines the binary framing for chain-call envelopes
// carried over a byte stream, and channel implementations that move
// framed packets between nodes.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/creachadair/mds/value"
)

// Packet is the parsed format of a chain-call v0 packet. The payload of
// a call or result packet is a JSON-encoded envelope.
type Packet struct {
	Protocol byte
	Type     PacketType
	Payload  []byte
}

// Encode encodes p in binary format.
func (p Packet) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8+len(p.Payload)))
	if _, err := p.WriteTo(buf); err != nil {
		panic(fmt.Errorf("encoding packet: %w", err))
	}
	return buf.Bytes()
}

// WriteTo writes the packet to w in binary format. It satisfies io.WriterTo.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	buf := [8]byte{'O', 'C', p.Protocol, byte(p.Type)}
	binary.BigEndian.PutUint32(buf[4:], uint32(len(p.Payload)))
	nw, err := w.Write(buf[:])
	if err == nil && len(p.Payload) != 0 {
		var np int
		np, err = w.Write(p.Payload)
		nw += np
	}
	return int64(nw), err
}

// ReadFrom reads a packet from r in binary format. It satisfies io.ReaderFrom.
func (p *Packet) ReadFrom(r io.Reader) (int64, error) {
	var buf [8]byte
	nr, err := io.ReadFull(r, buf[:])
	if err != nil {
		if nr == 0 && errors.Is(err, io.EOF) {
			return 0, io.EOF // clean end of stream between packets
		}
		return int64(nr), fmt.Errorf("short packet header: %w", err)
	}
	if tag := string(buf[:3]); tag != "OC\x00" {
		return int64(nr), fmt.Errorf("invalid protocol version %q", tag)
	}

	p.Protocol = buf[2]
	p.Type = PacketType(buf[3])

	if psize := binary.BigEndian.Uint32(buf[4:]); psize > 0 {
		p.Payload = make([]byte, int(psize))
		var np int
		np, err = io.ReadFull(r, p.Payload)
		nr += np
		if err != nil {
			err = fmt.Errorf("short payload: %w", err)
		}
	}

	return int64(nr), err
}

// String returns a human-friendly rendering of the packet.
func (p *Packet) String() string {
	pay := fmt.Sprintf("[%d bytes]", len(p.Payload))
	return fmt.Sprintf("Packet(OC%v, %v, %s)", p.Protocol, p.Type, pay)
}

// PacketType describes the structure type of a chain-call v0 packet.
//
// All packet type values from 0 to 127 inclusive are reserved by the
// protocol and MUST NOT be used for any other purpose. Packet type values
// from 128-255 are reserved for use by the implementation.
type PacketType byte

const (
	PacketCall   PacketType = 2 // An enqueue request carrying a call message
	PacketResult PacketType = 4 // A call result closing the loop for an operation

	maxReservedType = 127
)

func (p PacketType) String() string {
	switch p {
	case PacketCall:
		return "CALL"
	case PacketResult:
		return "RESULT"
	default:
		return fmt.Sprintf("TYPE:%d", byte(p))
	}
}

// Reserved reports whether p is a reserved packet type.
func (p PacketType) Reserved() bool { return p <= maxReservedType }

// Label returns a short label for p, naming reserved types that have no
// assigned meaning by number.
func (p PacketType) Label() string {
	return value.Cond(p == PacketCall || p == PacketResult, p.String(),
		fmt.Sprintf("reserved(%d)", byte(p)))
}

// A Channel moves packets between two endpoints. Send must be safe for
// concurrent use, since a node delivers outbound calls and results from
// separate goroutines; Recv has a single consumer.
type Channel interface {
	// Send sends the packet to the remote endpoint.
	Send(*Packet) error

	// Recv returns the next available packet from the channel.
	Recv() (*Packet, error)

	// Close shuts down the channel.
	Close() error
}
