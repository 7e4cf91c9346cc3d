// Package testutil provides loopback TCP responders for scanner tests.
package testutil

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MockTCPServer is a loopback TCP server that calls handler for each
// connection. Stop closes the listener and every live connection.
type MockTCPServer struct {
	listener net.Listener
	handler  func(net.Conn)
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}

	accepted atomic.Int64
}

// NewMockTCPServer creates a server. If handler is nil, it holds each
// connection open without writing anything.
func NewMockTCPServer(handler func(net.Conn)) *MockTCPServer {
	if handler == nil {
		handler = silentHandler
	}
	return &MockTCPServer{handler: handler, conns: make(map[net.Conn]struct{})}
}

// NewSilentServer accepts connections and never replies.
func NewSilentServer() *MockTCPServer {
	return NewMockTCPServer(silentHandler)
}

// NewBannerServer greets every client with banner, the way SSH, FTP and
// SMTP daemons do, then waits for the client to hang up.
func NewBannerServer(banner string) *MockTCPServer {
	return NewMockTCPServer(func(conn net.Conn) {
		_, _ = io.WriteString(conn, banner)
		_, _ = io.Copy(io.Discard, conn)
	})
}

// NewHTTPServer reads one request header block and answers with the given
// status line and headers, then closes the connection.
func NewHTTPServer(status string, headers map[string]string) *MockTCPServer {
	return NewMockTCPServer(func(conn net.Conn) {
		br := bufio.NewReader(conn)
		for {
			line, err := br.ReadString('\n')
			if err != nil || strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s\r\n", status)
		for k, v := range headers {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
		b.WriteString("\r\n<html></html>")
		_, _ = io.WriteString(conn, b.String())
	})
}

func silentHandler(conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn)
}

// Start starts the server on a random loopback port.
func (s *MockTCPServer) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *MockTCPServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		s.accepted.Add(1)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.forget(conn)
			s.handler(conn)
		}()
	}
}

func (s *MockTCPServer) forget(conn net.Conn) {
	conn.Close()
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Stop stops the server.
func (s *MockTCPServer) Stop() error {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	return nil
}

// Addr returns the server address.
func (s *MockTCPServer) Addr() string {
	return s.listener.Addr().String()
}

// Port returns the server port.
func (s *MockTCPServer) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Accepted is the number of connections accepted so far.
func (s *MockTCPServer) Accepted() int {
	return int(s.accepted.Load())
}

// CountingServer holds every connection for a fixed time and records the
// highest number of simultaneously open connections.
type CountingServer struct {
	*MockTCPServer
	hold    time.Duration
	current atomic.Int64
	peak    atomic.Int64
}

// NewCountingServer creates a server that keeps each connection for hold.
func NewCountingServer(hold time.Duration) *CountingServer {
	cs := &CountingServer{hold: hold}
	cs.MockTCPServer = NewMockTCPServer(cs.countingHandler)
	return cs
}

func (s *CountingServer) countingHandler(conn net.Conn) {
	cur := s.current.Add(1)
	defer s.current.Add(-1)
	for {
		p := s.peak.Load()
		if cur <= p || s.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.hold))
	_, _ = io.Copy(io.Discard, conn)
}

// Peak returns the highest number of concurrent connections observed.
func (s *CountingServer) Peak() int {
	return int(s.peak.Load())
}

// ClosedPort returns a loopback port with nothing listening on it.
func ClosedPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	return port, l.Close()
}
