// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrAuthFailure is returned when the handshake's signature check fails.
// The connection must be closed immediately with no diagnostic byte sent
// back to the peer.
var ErrAuthFailure = errors.New("transport: handshake authentication failure")

// ErrCryptoFailure is returned on an AEAD authentication tag mismatch.
// The connection must be closed permanently and its keys purged.
var ErrCryptoFailure = errors.New("transport: aead authentication failure")

// Conn wraps a net.Conn with the post-handshake AEAD framing: a 4-byte
// big-endian length prefix, payload, then the tag.
type Conn struct {
	raw  net.Conn
	send *aeadStream
	recv *aeadStream

	readBuf []byte // leftover plaintext from a partially consumed frame
}

func newConn(raw net.Conn, send, recv *aeadStream) *Conn {
	return &Conn{raw: raw, send: send, recv: recv}
}

// WritePlaintext partitions data into chunks of at most maxChunk bytes,
// seals each with the send stream, and writes the length-prefixed frame.
func (c *Conn) WritePlaintext(data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > maxChunk {
			n = maxChunk
		}
		chunk := data[:n]
		data = data[n:]

		sealed, err := c.send.seal(chunk)
		if err != nil {
			framesTotal.WithLabelValues("send", "failure").Inc()
			return err
		}
		header := make([]byte, 4)
		binary.BigEndian.PutUint32(header, uint32(len(sealed)))
		if _, err := c.raw.Write(header); err != nil {
			return fmt.Errorf("transport: write frame header: %w", err)
		}
		if _, err := c.raw.Write(sealed); err != nil {
			return fmt.Errorf("transport: write frame payload: %w", err)
		}
	}
	return nil
}

// readFrame reads exactly one length-prefixed frame from the wire and
// decrypts it, enforcing the [16, 64KiB+16] length bound.
func (c *Conn) readFrame() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.raw, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	if length < minFrame || length > maxFrame {
		return nil, fmt.Errorf("transport: frame length %d out of bounds", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.raw, payload); err != nil {
		return nil, fmt.Errorf("transport: read frame payload: %w", err)
	}

	plaintext, err := c.recv.open(payload)
	if err != nil {
		framesTotal.WithLabelValues("recv", "failure").Inc()
		return nil, ErrCryptoFailure
	}
	framesTotal.WithLabelValues("recv", "success").Inc()
	return plaintext, nil
}

// Read implements io.Reader over the decrypted frame stream, buffering
// any plaintext left over from a frame larger than the caller's buffer.
func (c *Conn) Read(p []byte) (int, error) {
	if len(c.readBuf) == 0 {
		frame, err := c.readFrame()
		if err != nil {
			return 0, err
		}
		c.readBuf = frame
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

// Write implements io.Writer over the encrypted frame stream.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.WritePlaintext(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
