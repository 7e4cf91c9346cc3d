// Package scanner finds open TCP ports on a host under a shared
// concurrency ceiling.
package scanner

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"bytemomo/sonar/internal/entity"
	"bytemomo/sonar/internal/limiter"
	"bytemomo/sonar/internal/sonarerr"

	"github.com/sirupsen/logrus"
)

const (
	TypeConnect = "connect"
	TypeNmap    = "nmap"
)

// Prober reports which of the given ports accept TCP connections on host.
// Per-port failures never surface as errors: a port that cannot be
// connected to, for any reason, is simply not open.
type Prober interface {
	Type() string
	Scan(ctx context.Context, host entity.Host, ports entity.PortSet) entity.PortScanResult
}

// Dialer is the subset of net.Dialer used by the connect prober.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ConnectScanner performs plain TCP connect probes. Every probe holds one
// slot of the shared Limiter for the duration of the connect.
type ConnectScanner struct {
	Log     *logrus.Entry
	Limiter *limiter.Limiter
	Timeout time.Duration
	Dialer  Dialer
}

// NewConnectScanner validates its settings and returns a ConnectScanner.
func NewConnectScanner(log *logrus.Entry, lim *limiter.Limiter, timeout time.Duration) (*ConnectScanner, error) {
	if timeout <= 0 {
		return nil, sonarerr.Config("scanner.NewConnectScanner", "timeout must be positive", nil)
	}
	if lim == nil {
		return nil, sonarerr.Config("scanner.NewConnectScanner", "limiter is required", nil)
	}
	return &ConnectScanner{
		Log:     log,
		Limiter: lim,
		Timeout: timeout,
		Dialer:  &net.Dialer{},
	}, nil
}

func (s *ConnectScanner) Type() string { return TypeConnect }

// Scan probes every port concurrently, subject only to the Limiter, and
// returns the open ones in ascending order.
func (s *ConnectScanner) Scan(ctx context.Context, host entity.Host, ports entity.PortSet) entity.PortScanResult {
	var (
		mu   sync.Mutex
		open = entity.PortSet{}
		wg   sync.WaitGroup
	)

	for _, p := range ports {
		// Take the slot before spawning so a large port set does not park a
		// goroutine per port.
		if err := s.Limiter.Acquire(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			defer s.Limiter.Release()
			if s.probe(ctx, host, port) {
				mu.Lock()
				open = append(open, port)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	sort.Ints(open)
	s.log().WithFields(logrus.Fields{
		"host":  host,
		"ports": len(ports),
		"open":  len(open),
	}).Debug("Port scan finished")
	return entity.PortScanResult{Host: host, OpenPorts: open}
}

func (s *ConnectScanner) probe(ctx context.Context, host entity.Host, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := s.dialer().DialContext(ctx, "tcp", addr)
	if err != nil {
		s.log().WithError(err).WithField("addr", addr).Trace("Probe failed")
		return false
	}
	_ = conn.Close()
	return true
}

func (s *ConnectScanner) dialer() Dialer {
	if s.Dialer == nil {
		return &net.Dialer{}
	}
	return s.Dialer
}

func (s *ConnectScanner) log() *logrus.Entry {
	if s.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return s.Log
}
