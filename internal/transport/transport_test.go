// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package transport

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"errors"
	"net"
	"net/http"
	"strconv"
	"testing"
)

type staticVerifier struct {
	pub ed25519.PublicKey
}

func (v staticVerifier) VerifyAny(data, signature []byte) bool {
	return ed25519.Verify(v.pub, data, signature)
}

func TestHandshake_RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	type result struct {
		conn *Conn
		err  error
	}
	serverCh := make(chan result, 1)
	clientCh := make(chan result, 1)

	go func() {
		c, err := serverHandshake(serverRaw, staticVerifier{pub: pub})
		serverCh <- result{c, err}
	}()
	go func() {
		c, err := ClientHandshake(clientRaw, priv)
		clientCh <- result{c, err}
	}()

	sr := <-serverCh
	cr := <-clientCh
	if sr.err != nil {
		t.Fatalf("server handshake: %v", sr.err)
	}
	if cr.err != nil {
		t.Fatalf("client handshake: %v", cr.err)
	}

	msg := []byte("hello over the tunnel")
	done := make(chan error, 1)
	go func() {
		_, err := cr.conn.Write(msg)
		done <- err
	}()

	buf := make([]byte, len(msg))
	if _, err := readFull(sr.conn, buf); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("client write: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("got %q, want %q", buf, msg)
	}
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestHandshake_BadSignatureFails(t *testing.T) {
	_, wrongPriv, _ := ed25519.GenerateKey(nil)
	realPub, _, _ := ed25519.GenerateKey(nil)

	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	serverErr := make(chan error, 1)
	go func() {
		_, err := serverHandshake(serverRaw, staticVerifier{pub: realPub})
		serverErr <- err
	}()
	go func() {
		_, _ = ClientHandshake(clientRaw, wrongPriv)
	}()

	err := <-serverErr
	if !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
}

func TestAEADStream_TamperDetection(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcde"))
	var salt [saltSize]byte
	copy(salt[:], []byte{1, 2, 3, 4})

	stream, err := newAEADStream(key, salt)
	if err != nil {
		t.Fatalf("newAEADStream: %v", err)
	}
	sealed, err := stream.seal([]byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF

	openStream, err := newAEADStream(key, salt)
	if err != nil {
		t.Fatalf("newAEADStream: %v", err)
	}
	if _, err := openStream.open(sealed); err == nil {
		t.Fatal("expected tamper detection to fail open()")
	}
}

func TestAEADStream_CounterExhaustion(t *testing.T) {
	var key [32]byte
	var salt [saltSize]byte
	stream, err := newAEADStream(key, salt)
	if err != nil {
		t.Fatalf("newAEADStream: %v", err)
	}
	stream.counter = ^uint64(0)
	if _, err := stream.seal([]byte("x")); !errors.Is(err, errCounterExhausted) {
		t.Fatalf("expected errCounterExhausted, got %v", err)
	}
}

func TestConn_FrameLengthBoundsRejected(t *testing.T) {
	var key [32]byte
	var saltA, saltB [saltSize]byte
	saltB[0] = 1

	sendA, _ := newAEADStream(key, saltA)
	recvA, _ := newAEADStream(key, saltB)

	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	serverConn := newConn(serverRaw, sendA, recvA)

	go func() {
		header := []byte{0xFF, 0xFF, 0xFF, 0xFF} // length far exceeds maxFrame
		_, _ = clientRaw.Write(header)
	}()

	buf := make([]byte, 16)
	_, err := serverConn.Read(buf)
	if err == nil {
		t.Fatal("expected error reading oversized frame length")
	}
}

func TestParseAllowedPorts(t *testing.T) {
	ports, err := ParseAllowedPorts("443 8443")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ports.allowed(443) || !ports.allowed(8443) {
		t.Fatal("expected 443 and 8443 to be allowed")
	}
	if ports.allowed(22) {
		t.Fatal("expected 22 to be disallowed")
	}

	if _, err := ParseAllowedPorts("443 notaport"); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
	if _, err := ParseAllowedPorts("0"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestListener_RejectsNonConnectMethod(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	ports, _ := ParseAllowedPorts("443")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	listener := NewListener(ln.Addr().String(), staticVerifier{pub: pub}, ports)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		listener.conns.Add(connService{listener: listener, conn: conn})
	}()
	go listener.conns.ServeBackground(ctx)

	rawClient, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer rawClient.Close()

	secured, err := ClientHandshake(rawClient, priv)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	if err := req.Write(secured); err != nil {
		t.Fatalf("write request: %v", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(secured), req)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestListener_RejectsDisallowedPort(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	ports, _ := ParseAllowedPorts("443")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	listener := NewListener(ln.Addr().String(), staticVerifier{pub: pub}, ports)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		listener.conns.Add(connService{listener: listener, conn: conn})
	}()
	go listener.conns.ServeBackground(ctx)

	rawClient, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer rawClient.Close()

	secured, err := ClientHandshake(rawClient, priv)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	req, _ := http.NewRequest(http.MethodConnect, "http://127.0.0.1:9999", nil)
	req.Host = "127.0.0.1:9999"
	if err := req.Write(secured); err != nil {
		t.Fatalf("write request: %v", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(secured), req)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for disallowed port, got %d", resp.StatusCode)
	}
}

func TestListener_ConnectsToAllowedUpstream(t *testing.T) {
	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen upstream: %v", err)
	}
	defer upstreamLn.Close()
	upstreamPort := upstreamLn.Addr().(*net.TCPAddr).Port

	go func() {
		conn, err := upstreamLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		_, _ = readFull(conn, buf)
		_, _ = conn.Write([]byte("world"))
	}()

	pub, priv, _ := ed25519.GenerateKey(nil)
	portsRaw := strconv.Itoa(upstreamPort)
	ports, err := ParseAllowedPorts(portsRaw)
	if err != nil {
		t.Fatalf("parse ports: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	listener := NewListener(ln.Addr().String(), staticVerifier{pub: pub}, ports)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		listener.conns.Add(connService{listener: listener, conn: conn})
	}()
	go listener.conns.ServeBackground(ctx)

	rawClient, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer rawClient.Close()

	secured, err := ClientHandshake(rawClient, priv)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	req, _ := http.NewRequest(http.MethodConnect, "http://127.0.0.1:"+portsRaw, nil)
	req.Host = "127.0.0.1:" + portsRaw
	if err := req.Write(secured); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(secured), req)
	if err != nil {
		t.Fatalf("read CONNECT response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if _, err := secured.Write([]byte("hello")); err != nil {
		t.Fatalf("write tunneled: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := readFull(secured, buf); err != nil {
		t.Fatalf("read tunneled reply: %v", err)
	}
	if string(buf) != "world" {
		t.Fatalf("got %q, want %q", buf, "world")
	}
}

