// Package server implements the roomchat server: a single listener
// accepting both raw TCP and WebSocket clients, and an engine that owns
// all session and room state.
package server

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roomchat-dev/roomchat/pkg/protocol"
)

// DefaultMaxSessions is the session cap used when Config leaves it zero.
const DefaultMaxSessions = 10

const capacityErrText = "server is full, try again later"

// Config configures a Server.
type Config struct {
	// Addr is the TCP address to listen on, e.g. ":9070".
	Addr string
	// MetricsAddr serves Prometheus metrics on /metrics when non-empty.
	MetricsAddr string
	// MaxSessions caps concurrent sessions; 0 means DefaultMaxSessions.
	MaxSessions int
}

// Server accepts connections, detects the transport, and hands admitted
// connections to the engine.
type Server struct {
	cfg      Config
	engine   *Engine
	metrics  *Metrics
	registry *prometheus.Registry

	listener        net.Listener
	metricsListener net.Listener
	metricsServer   *http.Server

	// pending holds accepted connections that have not yet produced
	// the bytes needed for transport detection, so Stop can close them.
	mu      sync.Mutex
	pending map[net.Conn]struct{}

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a new Server instance.
func New(cfg Config) *Server {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	return &Server{
		cfg:      cfg,
		engine:   NewEngine(cfg.MaxSessions, metrics),
		metrics:  metrics,
		registry: registry,
		pending:  make(map[net.Conn]struct{}),
		quit:     make(chan struct{}),
	}
}

// Start binds the listener and serves until Stop. A failure to bind is
// returned before anything else starts so the caller can distinguish it
// from runtime errors.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener
	log.Printf("server started on %s (TCP and WebSocket), default room %q", listener.Addr(), DefaultRoomName)

	if s.cfg.MetricsAddr != "" {
		if err := s.startMetrics(); err != nil {
			listener.Close()
			return err
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.engine.Run()
	}()

	for {
		select {
		case <-s.quit:
			return nil
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-s.quit:
					return nil
				default:
					log.Printf("failed to accept connection: %v", err)
					continue
				}
			}
			s.wg.Add(1)
			go s.handleConn(conn)
		}
	}
}

// Stop shuts the server down: no new connections, every live session
// torn down with its disconnect broadcasts, all sockets closed.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	if s.metricsServer != nil {
		s.metricsServer.Close()
	}
	s.mu.Lock()
	for conn := range s.pending {
		conn.Close()
	}
	s.mu.Unlock()
	s.engine.Stop()
	s.wg.Wait()
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// MetricsAddr returns the metrics listener address, "" when disabled.
func (s *Server) MetricsAddr() string {
	if s.metricsListener != nil {
		return s.metricsListener.Addr().String()
	}
	return ""
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return s.engine.SessionCount()
}

func (s *Server) startMetrics() error {
	listener, err := net.Listen("tcp", s.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to bind metrics listener %s: %w", s.cfg.MetricsAddr, err)
	}
	s.metricsListener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.metricsServer = &http.Server{Handler: mux}

	log.Printf("metrics served on http://%s/metrics", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.metricsServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	return nil
}

// handleConn rejects over-cap connections, then peeks the first bytes
// to decide between the raw TCP protocol and a WebSocket upgrade.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	// Admission control happens before any bytes are read so a
	// rejected connection gets its ERROR frame immediately.
	if s.engine.SessionCount() >= s.cfg.MaxSessions {
		s.reject(conn)
		return
	}

	s.mu.Lock()
	s.pending[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, conn)
		s.mu.Unlock()
	}()

	reader := bufio.NewReader(conn)
	prefix, err := reader.Peek(4)
	if err != nil {
		conn.Close()
		return
	}

	var c Conn
	if isHTTPPrefix(prefix) {
		rw := readWriter{Reader: reader, Writer: conn}
		if _, err := ws.Upgrade(rw); err != nil {
			log.Printf("websocket upgrade from %s failed: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
		c = newWSConn(conn, rw)
	} else {
		c = newTCPConn(conn, reader)
	}

	// The engine re-checks the cap; the early check above races with
	// concurrent accepts.
	if !s.engine.Connect(c) {
		frame, err := protocol.Encode(protocol.TypeError, 0, protocol.F(protocol.FieldText, capacityErrText))
		if err == nil {
			_ = c.Write(frame)
		}
		c.Close()
		s.metrics.ConnectionsRejected.Inc()
	}
}

// reject writes a single capacity ERROR frame and closes the socket
// without registering a session.
func (s *Server) reject(conn net.Conn) {
	frame, err := protocol.Encode(protocol.TypeError, 0, protocol.F(protocol.FieldText, capacityErrText))
	if err == nil {
		_, _ = conn.Write(frame)
	}
	conn.Close()
	s.metrics.ConnectionsRejected.Inc()
	log.Printf("rejected connection from %s: session cap reached", conn.RemoteAddr())
}

// isHTTPPrefix reports whether the peeked bytes look like the start of
// an HTTP request. WebSocket clients open with a GET; raw protocol
// frames start with a big-endian length whose first byte is 0.
func isHTTPPrefix(prefix []byte) bool {
	return bytes.HasPrefix(prefix, []byte("GET ")) ||
		bytes.HasPrefix(prefix, []byte("POST")) ||
		bytes.HasPrefix(prefix, []byte("PUT ")) ||
		bytes.HasPrefix(prefix, []byte("HEAD"))
}

// readWriter pairs the peeked buffered reader with the raw connection
// for the WebSocket handshake and subsequent frame I/O.
type readWriter struct {
	io.Reader
	io.Writer
}
