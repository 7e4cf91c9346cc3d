package scanner

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bytemomo/sonar/internal/entity"
	"bytemomo/sonar/internal/limiter"
	"bytemomo/sonar/internal/testutil"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newConnect(t *testing.T, concurrency int, timeout time.Duration) *ConnectScanner {
	t.Helper()
	lim, err := limiter.New(concurrency)
	require.NoError(t, err)
	s, err := NewConnectScanner(quietLog(), lim, timeout)
	require.NoError(t, err)
	return s
}

func TestConnectScanOpenAndClosed(t *testing.T) {
	a := testutil.NewSilentServer()
	require.NoError(t, a.Start())
	defer a.Stop()
	b := testutil.NewSilentServer()
	require.NoError(t, b.Start())
	defer b.Stop()

	closed, err := testutil.ClosedPort()
	require.NoError(t, err)

	ports := entity.PortSet{a.Port(), b.Port(), closed}
	s := newConnect(t, 10, time.Second)

	res := s.Scan(context.Background(), "127.0.0.1", ports)
	assert.Equal(t, "127.0.0.1", res.Host)

	want := entity.PortSet{a.Port(), b.Port()}
	if want[0] > want[1] {
		want[0], want[1] = want[1], want[0]
	}
	assert.Equal(t, want, res.OpenPorts)
}

func TestConnectScanNothingOpen(t *testing.T) {
	closed, err := testutil.ClosedPort()
	require.NoError(t, err)

	s := newConnect(t, 4, 500*time.Millisecond)
	res := s.Scan(context.Background(), "127.0.0.1", entity.PortSet{closed})
	assert.NotNil(t, res.OpenPorts)
	assert.Empty(t, res.OpenPorts)

	res = s.Scan(context.Background(), "127.0.0.1", entity.PortSet{})
	assert.Empty(t, res.OpenPorts)
}

// slowDialer simulates a network where every connect takes delay and
// records how many connects were in flight at once.
type slowDialer struct {
	delay   time.Duration
	open    map[int]bool
	current atomic.Int64
	peak    atomic.Int64
	calls   atomic.Int64
}

func (d *slowDialer) DialContext(ctx context.Context, _, address string) (net.Conn, error) {
	d.calls.Add(1)
	cur := d.current.Add(1)
	defer d.current.Add(-1)
	for {
		p := d.peak.Load()
		if cur <= p || d.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	_, portStr, _ := net.SplitHostPort(address)
	port, _ := strconv.Atoi(portStr)
	if d.open[port] {
		client, server := net.Pipe()
		server.Close()
		return client, nil
	}
	return nil, errors.New("connection refused")
}

func TestConnectScanRespectsGlobalLimitAcrossHosts(t *testing.T) {
	const concurrency = 5
	lim, err := limiter.New(concurrency)
	require.NoError(t, err)

	dialer := &slowDialer{delay: 10 * time.Millisecond, open: map[int]bool{7: true, 3: true}}
	s := &ConnectScanner{Log: quietLog(), Limiter: lim, Timeout: time.Second, Dialer: dialer}

	ports := entity.PortSet{}
	for p := 1; p <= 20; p++ {
		ports = append(ports, p)
	}

	hosts := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}
	results := make([]entity.PortScanResult, len(hosts))
	var wg sync.WaitGroup
	for i, h := range hosts {
		wg.Add(1)
		go func(i int, h string) {
			defer wg.Done()
			results[i] = s.Scan(context.Background(), h, ports)
		}(i, h)
	}
	wg.Wait()

	assert.Equal(t, int64(len(hosts)*len(ports)), dialer.calls.Load())
	assert.LessOrEqual(t, dialer.peak.Load(), int64(concurrency))
	assert.LessOrEqual(t, lim.Peak(), concurrency)
	for i, r := range results {
		assert.Equal(t, hosts[i], r.Host)
		assert.Equal(t, entity.PortSet{3, 7}, r.OpenPorts)
	}
}

func TestConnectScanTimeoutBound(t *testing.T) {
	lim, err := limiter.New(1)
	require.NoError(t, err)
	// Never completes on its own.
	dialer := &slowDialer{delay: time.Hour}
	s := &ConnectScanner{Log: quietLog(), Limiter: lim, Timeout: 100 * time.Millisecond, Dialer: dialer}

	start := time.Now()
	res := s.Scan(context.Background(), "192.0.2.1", entity.PortSet{80, 443})
	elapsed := time.Since(start)

	assert.Empty(t, res.OpenPorts)
	// Two sequential probes under a limit of one.
	assert.Less(t, elapsed, 2*100*time.Millisecond+500*time.Millisecond)
}

func TestConnectScanStopsOnCancelledContext(t *testing.T) {
	s := newConnect(t, 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.Scan(ctx, "127.0.0.1", entity.PortSet{1, 2, 3})
	assert.Empty(t, res.OpenPorts)
}

func TestNewConnectScannerValidation(t *testing.T) {
	lim, err := limiter.New(1)
	require.NoError(t, err)

	_, err = NewConnectScanner(quietLog(), lim, 0)
	assert.Error(t, err)
	_, err = NewConnectScanner(quietLog(), nil, time.Second)
	assert.Error(t, err)
}
