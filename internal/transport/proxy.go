// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/thejerf/suture/v4"
)

// AllowedPorts is a set of local TCP ports the CONNECT tunnel may dial,
// sourced from the ALLOWED_PORTS env var.
type AllowedPorts map[int]struct{}

// ParseAllowedPorts parses a space-separated list of ports, e.g. "443 8443".
func ParseAllowedPorts(raw string) (AllowedPorts, error) {
	out := make(AllowedPorts)
	for _, field := range strings.Fields(raw) {
		port, err := strconv.Atoi(field)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("transport: invalid port %q in ALLOWED_PORTS", field)
		}
		out[port] = struct{}{}
	}
	return out, nil
}

func (a AllowedPorts) allowed(port int) bool {
	_, ok := a[port]
	return ok
}

// Listener is the C5 proxy listener: it accepts TCP connections and adds
// one connService per connection to a dedicated suture.Supervisor, so a
// panic or crash in one connection's handshake or tunnel loop cannot take
// down the listener or any other connection.
type Listener struct {
	addr         string
	verifier     Verifier
	allowedPorts AllowedPorts
	dialBreaker  *gobreaker.CircuitBreaker[net.Conn]
	conns        *suture.Supervisor
}

// connService adapts one accepted connection to suture.Service: Serve
// runs the handshake and proxy loop, returning suture.ErrDoNotRestart on
// any completion (including protocol errors) so suture never restarts it.
// A connection
// is one-shot by nature; retrying a CONNECT tunnel makes no sense.
type connService struct {
	listener *Listener
	conn     net.Conn
}

func (c connService) Serve(ctx context.Context) error {
	defer c.conn.Close()

	secured, err := serverHandshake(c.conn, c.listener.verifier)
	if err != nil {
		handshakesTotal.WithLabelValues("failure").Inc()
		return suture.ErrDoNotRestart
	}
	handshakesTotal.WithLabelValues("success").Inc()

	_ = c.listener.runProxyLoop(ctx, secured)
	return suture.ErrDoNotRestart
}

// NewListener builds a Listener that dials local upstreams through a
// gobreaker circuit breaker, so a failing local service trips open
// instead of piling up dial timeouts across connections.
func NewListener(addr string, verifier Verifier, allowedPorts AllowedPorts) *Listener {
	settings := gobreaker.Settings{
		Name:        "transport-dial",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.Set(float64(to))
		},
	}
	return &Listener{
		addr:         addr,
		verifier:     verifier,
		allowedPorts: allowedPorts,
		dialBreaker:  gobreaker.NewCircuitBreaker[net.Conn](settings),
		conns:        suture.New("transport-connections", suture.Spec{}),
	}
}

// Serve implements suture.Service for the listener itself: it runs the
// per-connection supervisor in the background, accepts connections until
// ctx is cancelled, and adds each one as a connService.
func (l *Listener) Serve(ctx context.Context) error {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", l.addr, err)
	}
	defer ln.Close()

	connsDone := l.conns.ServeBackground(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				<-connsDone
				return ctx.Err()
			default:
				return fmt.Errorf("transport: accept: %w", err)
			}
		}
		l.conns.Add(connService{listener: l, conn: conn})
	}
}

// runProxyLoop reads the first HTTP request off secured, requires it to
// be CONNECT host:port with an allow-listed port, dials the local
// upstream, and bidirectionally copies bytes until either side closes.
func (l *Listener) runProxyLoop(ctx context.Context, secured *Conn) error {
	reader := bufio.NewReader(secured)
	req, err := http.ReadRequest(reader)
	if err != nil {
		return fmt.Errorf("transport: read request: %w", err)
	}

	if req.Method != http.MethodConnect {
		_ = secured.WritePlaintext([]byte("HTTP/1.1 405 Method Not Allowed\r\n\r\n"))
		return fmt.Errorf("transport: non-CONNECT method %s", req.Method)
	}

	_, portStr, err := net.SplitHostPort(req.Host)
	if err != nil {
		_ = secured.WritePlaintext([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		return fmt.Errorf("transport: bad CONNECT target %q: %w", req.Host, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || !l.allowedPorts.allowed(port) {
		_ = secured.WritePlaintext([]byte("HTTP/1.1 405 Method Not Allowed\r\n\r\n"))
		return fmt.Errorf("transport: port %s not allowed", portStr)
	}

	upstreamAny, err := l.dialBreaker.Execute(func() (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	})
	if err != nil {
		_ = secured.WritePlaintext([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		return fmt.Errorf("transport: dial upstream port %d: %w", port, err)
	}
	upstream := upstreamAny
	defer upstream.Close()

	if err := secured.WritePlaintext([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
		return err
	}

	return tunnel(secured, upstream)
}

// tunnel bidirectionally copies bytes between the AEAD stream and the
// upstream TCP socket, one goroutine per direction, terminating on the
// first direction's EOF and closing both sides.
func tunnel(secured *Conn, upstream net.Conn) error {
	errc := make(chan error, 2)
	go func() {
		n, err := io.Copy(upstream, secured)
		tunneledBytesTotal.WithLabelValues("client_to_upstream").Add(float64(n))
		errc <- err
	}()
	go func() {
		n, err := io.Copy(secured, upstream)
		tunneledBytesTotal.WithLabelValues("upstream_to_client").Add(float64(n))
		errc <- err
	}()
	err := <-errc
	secured.Close()
	upstream.Close()
	<-errc
	return err
}
