// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

// Package transport is the encrypted framed tunnel and its HTTP CONNECT
// proxy: an X25519/Ed25519 handshake, HKDF-derived ChaCha20-Poly1305
// framing, and a per-connection proxy loop dialing an allow-listed local
// port, built on golang.org/x/crypto.
package transport

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

func newSHA256() hash.Hash { return sha256.New() }

const (
	maxChunk    = 64 * 1024
	frameOverhead = chacha20poly1305.Overhead // 16-byte Poly1305 tag
	maxFrame    = maxChunk + frameOverhead
	minFrame    = frameOverhead

	saltSize    = 4
	nonceSize   = chacha20poly1305.NonceSize // 12 bytes: 4-byte salt || 8-byte BE counter

	labelAEADKey = "Abyss-AEAD-Key"
	labelSaltA   = "Abyss-Nonce-Salt-A"
	labelSaltB   = "Abyss-Nonce-Salt-B"
)

// GenerateX25519Keypair produces an ephemeral X25519 keypair for one
// handshake.
func GenerateX25519Keypair() (public, private [32]byte, err error) {
	if _, err = rand.Read(private[:]); err != nil {
		return public, private, fmt.Errorf("transport: read random scalar: %w", err)
	}
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return public, private, fmt.Errorf("transport: derive public key: %w", err)
	}
	copy(public[:], pub)
	return public, private, nil
}

// sharedSecret computes the X25519 shared secret from a local private key
// and a peer public key.
func sharedSecret(localPriv, peerPub [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(localPriv[:], peerPub[:])
	if err != nil {
		return nil, fmt.Errorf("transport: derive shared secret: %w", err)
	}
	return secret, nil
}

// derivedKeys is the output of the handshake's HKDF-SHA256 derivation:
// one 32-byte AEAD key and two 4-byte salts, assigned to send/recv by
// lexicographic public-key comparison.
type derivedKeys struct {
	aeadKey  [32]byte
	sendSalt [saltSize]byte
	recvSalt [saltSize]byte
}

// deriveKeys runs HKDF-SHA256 three times over shared secret with the
// three fixed labels, then assigns the two salts to send/recv based on
// which side has the lexicographically smaller raw public key: that side
// sends with salt_A and receives with salt_B, the other reverses.
func deriveKeys(shared []byte, localPub, peerPub [32]byte) (derivedKeys, error) {
	var out derivedKeys

	keyReader := hkdf.New(newSHA256, shared, nil, []byte(labelAEADKey))
	if _, err := io.ReadFull(keyReader, out.aeadKey[:]); err != nil {
		return out, fmt.Errorf("transport: derive aead key: %w", err)
	}

	var saltA, saltB [saltSize]byte
	saltAReader := hkdf.New(newSHA256, shared, nil, []byte(labelSaltA))
	if _, err := io.ReadFull(saltAReader, saltA[:]); err != nil {
		return out, fmt.Errorf("transport: derive salt A: %w", err)
	}
	saltBReader := hkdf.New(newSHA256, shared, nil, []byte(labelSaltB))
	if _, err := io.ReadFull(saltBReader, saltB[:]); err != nil {
		return out, fmt.Errorf("transport: derive salt B: %w", err)
	}

	if bytes.Compare(localPub[:], peerPub[:]) < 0 {
		out.sendSalt, out.recvSalt = saltA, saltB
	} else {
		out.sendSalt, out.recvSalt = saltB, saltA
	}
	return out, nil
}

// aeadStream is one direction's worth of ChaCha20-Poly1305 state: a
// monotonic 64-bit nonce counter and the fixed per-direction salt.
// Concurrent Seal/Open calls on the same stream are serialized by mu: one
// instance per stream, guarded by a per-stream lock.
type aeadStream struct {
	mu      sync.Mutex
	aead    cipher.AEAD
	salt    [saltSize]byte
	counter uint64
}

func newAEADStream(key [32]byte, salt [saltSize]byte) (*aeadStream, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("transport: init aead: %w", err)
	}
	return &aeadStream{aead: aead, salt: salt}, nil
}

var errCounterExhausted = fmt.Errorf("transport: nonce counter exhausted")

func (s *aeadStream) nextNonce() ([]byte, error) {
	if s.counter == ^uint64(0) {
		return nil, errCounterExhausted
	}
	counter := s.counter
	s.counter++
	nonce := make([]byte, nonceSize)
	copy(nonce, s.salt[:])
	binary.BigEndian.PutUint64(nonce[saltSize:], counter)
	return nonce, nil
}

// seal encrypts plaintext (at most maxChunk bytes) with the next nonce,
// returning ciphertext||tag.
func (s *aeadStream) seal(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce, err := s.nextNonce()
	if err != nil {
		return nil, err
	}
	return s.aead.Seal(nil, nonce, plaintext, nil), nil
}

// open decrypts ciphertext||tag with the next expected nonce.
func (s *aeadStream) open(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce, err := s.nextNonce()
	if err != nil {
		return nil, err
	}
	return s.aead.Open(nil, nonce, ciphertext, nil)
}
