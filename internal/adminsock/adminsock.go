// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

// Package adminsock is the C6 admin control socket: a UNIX-domain stream
// socket carrying one base64(JSON) request/response pair per connection,
// dispatched through a compile-time head-code table into C2/C3/C4. The
// socket itself is the trust boundary; handlers act with root's authority
// directly rather than re-deriving it from a caller-supplied token.
package adminsock

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"

	"github.com/goccy/go-json"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/abyss/internal/apierr"
	"github.com/tomtom215/abyss/internal/identity"
	"github.com/tomtom215/abyss/internal/resauth"
	"github.com/tomtom215/abyss/internal/session"
)

// Head codes for the admin wire protocol.
const (
	HeadHello   = 100
	HeadInit    = 103
	HeadUserAdd = 104
	HeadInclude = 105
	HeadChmod   = 106
	HeadList    = 107
)

// Request is the wire envelope: base64(json(Request)) + "\n".
type Request struct {
	Head   int      `json:"head"`
	Params []string `json:"params"`
}

// Response mirrors Request; Head is an HTTP-style status code.
type Response struct {
	Head   int      `json:"head"`
	Params []string `json:"params"`
}

// handlerFunc executes one admin request against C2/C3/C4 state.
type handlerFunc func(s *Server, params []string) (Response, error)

// dispatch is the compile-time head-code table: no reflective class
// scanning, just a map literal from head code to handler.
var dispatch = map[int]handlerFunc{
	HeadHello:   handleHello,
	HeadInit:    handleInit,
	HeadUserAdd: handleUserAdd,
	HeadInclude: handleInclude,
	HeadChmod:   handleChmod,
	HeadList:    handleList,
}

// Server owns the admin socket listener and the dependencies its handlers
// call through: the identity store, the session service (used only to mint
// short-lived root tokens for driving the resauth engine), and the
// resauth engine itself.
type Server struct {
	sockPath  string
	mediaRoot string
	users     *identity.Store
	sessions  *session.Service
	engine    *resauth.Engine
}

// New builds a Server listening at sockPath.
func New(sockPath, mediaRoot string, users *identity.Store, sessions *session.Service, engine *resauth.Engine) *Server {
	return &Server{
		sockPath:  sockPath,
		mediaRoot: mediaRoot,
		users:     users,
		sessions:  sessions,
		engine:    engine,
	}
}

// Serve implements suture.Service: it removes any stale socket file, binds
// a fresh UNIX-domain listener, and runs one connService per connection
// under a dedicated suture.Supervisor (same isolation pattern as
// internal/transport.Listener).
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.sockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("adminsock: remove stale socket: %w", err)
	}

	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("adminsock: listen %s: %w", s.sockPath, err)
	}
	defer ln.Close()

	conns := suture.New("adminsock-connections", suture.Spec{})
	connsDone := conns.ServeBackground(ctx)

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
				return fmt.Errorf("adminsock: accept: %w", err)
			}
		}
		conns.Add(connService{server: s, conn: conn})
	}
}

type connService struct {
	server *Server
	conn   net.Conn
}

func (c connService) Serve(ctx context.Context) error {
	defer c.conn.Close()
	c.server.handleConn(c.conn)
	return suture.ErrDoNotRestart
}

// handleConn reads exactly one request from conn, dispatches it, and
// writes back exactly one response. Each connection carries one
// request/response pair; callers open a new connection per request.
func (s *Server) handleConn(conn net.Conn) {
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	req, err := decodeRequest(line)
	if err != nil {
		writeResponse(conn, Response{Head: 400})
		return
	}

	handler, ok := dispatch[req.Head]
	if !ok {
		writeResponse(conn, Response{Head: 400})
		return
	}

	resp, err := handler(s, req.Params)
	if err != nil {
		writeResponse(conn, Response{Head: statusFor(err)})
		return
	}
	writeResponse(conn, resp)
}

func decodeRequest(line string) (Request, error) {
	raw, err := base64.StdEncoding.DecodeString(trimNewline(line))
	if err != nil {
		return Request{}, fmt.Errorf("adminsock: decode base64: %w", err)
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("adminsock: decode json: %w", err)
	}
	return req, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func writeResponse(conn net.Conn, resp Response) {
	if resp.Params == nil {
		resp.Params = []string{}
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	_, _ = conn.Write([]byte(encoded + "\n"))
}

// statusFor maps an apierr.Kind (or an unrecognized error) to the
// HTTP-style head code the wire protocol uses for failure responses.
func statusFor(err error) int {
	return apierr.KindOf(err).Status()
}
