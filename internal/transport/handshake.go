// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
)

const (
	challengeSize = 32
	signatureSize = ed25519.SignatureSize // 64 bytes
	ackNonceSize  = 16
)

// Verifier is the subset of internal/session.Service the handshake needs:
// checking a signature against any registered user's public key without
// knowing the peer's identity in advance.
type Verifier interface {
	VerifyAny(data, signature []byte) bool
}

// serverHandshake runs the server side of the X25519/Ed25519 handshake
// over raw, returning a ready-to-use framed Conn.
func serverHandshake(raw net.Conn, verifier Verifier) (*Conn, error) {
	localPub, localPriv, err := GenerateX25519Keypair()
	if err != nil {
		return nil, err
	}

	if _, err := raw.Write(localPub[:]); err != nil {
		return nil, fmt.Errorf("transport: send public key: %w", err)
	}
	var peerPub [32]byte
	if _, err := io.ReadFull(raw, peerPub[:]); err != nil {
		return nil, fmt.Errorf("transport: read peer public key: %w", err)
	}

	challenge := make([]byte, challengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("transport: generate challenge: %w", err)
	}
	if _, err := raw.Write(challenge); err != nil {
		return nil, fmt.Errorf("transport: send challenge: %w", err)
	}
	signature := make([]byte, signatureSize)
	if _, err := io.ReadFull(raw, signature); err != nil {
		return nil, fmt.Errorf("transport: read signature: %w", err)
	}

	if !verifier.VerifyAny(challenge, signature) {
		return nil, ErrAuthFailure
	}

	ack := make([]byte, ackNonceSize)
	if _, err := rand.Read(ack); err != nil {
		return nil, fmt.Errorf("transport: generate ack nonce: %w", err)
	}
	if _, err := raw.Write(ack); err != nil {
		return nil, fmt.Errorf("transport: send ack nonce: %w", err)
	}

	shared, err := sharedSecret(localPriv, peerPub)
	if err != nil {
		return nil, err
	}
	keys, err := deriveKeys(shared, localPub, peerPub)
	if err != nil {
		return nil, err
	}

	sendStream, err := newAEADStream(keys.aeadKey, keys.sendSalt)
	if err != nil {
		return nil, err
	}
	recvStream, err := newAEADStream(keys.aeadKey, keys.recvSalt)
	if err != nil {
		return nil, err
	}
	return newConn(raw, sendStream, recvStream), nil
}

// ClientHandshake runs the client side of the handshake, signing the
// server's challenge with clientPriv. Exported for test harnesses and any
// future client tooling that needs to speak this protocol.
func ClientHandshake(raw net.Conn, clientPriv ed25519.PrivateKey) (*Conn, error) {
	localPub, localPriv, err := GenerateX25519Keypair()
	if err != nil {
		return nil, err
	}

	var peerPub [32]byte
	if _, err := io.ReadFull(raw, peerPub[:]); err != nil {
		return nil, fmt.Errorf("transport: read peer public key: %w", err)
	}
	if _, err := raw.Write(localPub[:]); err != nil {
		return nil, fmt.Errorf("transport: send public key: %w", err)
	}

	challenge := make([]byte, challengeSize)
	if _, err := io.ReadFull(raw, challenge); err != nil {
		return nil, fmt.Errorf("transport: read challenge: %w", err)
	}
	signature := ed25519.Sign(clientPriv, challenge)
	if _, err := raw.Write(signature); err != nil {
		return nil, fmt.Errorf("transport: send signature: %w", err)
	}

	ack := make([]byte, ackNonceSize)
	if _, err := io.ReadFull(raw, ack); err != nil {
		return nil, fmt.Errorf("transport: read ack nonce: %w", err)
	}

	shared, err := sharedSecret(localPriv, peerPub)
	if err != nil {
		return nil, err
	}
	keys, err := deriveKeys(shared, localPub, peerPub)
	if err != nil {
		return nil, err
	}

	// The client's send/recv salts are the mirror image of the server's,
	// since deriveKeys assigns by lexicographic pubkey order regardless of
	// which side calls it.
	sendStream, err := newAEADStream(keys.aeadKey, keys.sendSalt)
	if err != nil {
		return nil, err
	}
	recvStream, err := newAEADStream(keys.aeadKey, keys.recvSalt)
	if err != nil {
		return nil, err
	}
	return newConn(raw, sendStream, recvStream), nil
}
