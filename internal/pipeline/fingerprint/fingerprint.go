// Package fingerprint extracts service evidence from open ports with one
// short protocol interaction per port.
package fingerprint

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
	DefaultHTTPReadBudget   = 2048
	DefaultBannerReadBudget = 256
	DefaultBannerGrace      = 100 * time.Millisecond
	DefaultUserAgent        = "sonar/1.0"
)

// Dialer is the subset of net.Dialer used by probes.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Fingerprinter runs the probe selected by Table for every open port of a
// host. Each probe holds one Limiter slot for its whole interaction.
type Fingerprinter struct {
	Log     *logrus.Entry
	Limiter *limiter.Limiter
	Table   Table
	Dialer  Dialer

	// Timeout bounds the connect and, separately, the exchange of each probe.
	Timeout          time.Duration
	UserAgent        string
	HTTPReadBudget   int
	BannerReadBudget int
	BannerGrace      time.Duration
}

// New returns a Fingerprinter with the default dispatch table and budgets.
func New(log *logrus.Entry, lim *limiter.Limiter, timeout time.Duration) (*Fingerprinter, error) {
	if timeout <= 0 {
		return nil, sonarerr.Config("fingerprint.New", "timeout must be positive", nil)
	}
	if lim == nil {
		return nil, sonarerr.Config("fingerprint.New", "limiter is required", nil)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Fingerprinter{
		Log:              log,
		Limiter:          lim,
		Table:            DefaultTable,
		Dialer:           &net.Dialer{},
		Timeout:          timeout,
		UserAgent:        DefaultUserAgent,
		HTTPReadBudget:   DefaultHTTPReadBudget,
		BannerReadBudget: DefaultBannerReadBudget,
		BannerGrace:      DefaultBannerGrace,
	}, nil
}

// Fingerprint probes every open port that has a table entry. Probes run
// concurrently; a failed or silent probe contributes nothing. The result
// is ordered by port.
func (f *Fingerprinter) Fingerprint(ctx context.Context, host entity.Host, open entity.PortSet) []entity.ServiceFingerprint {
	var (
		mu  sync.Mutex
		out []entity.ServiceFingerprint
		wg  sync.WaitGroup
	)

	for _, port := range open {
		probe, ok := f.Table.Lookup(port)
		if !ok {
			continue
		}
		wg.Go(func() {
			if fp, ok := f.run(ctx, host, port, probe); ok {
				mu.Lock()
				out = append(out, fp)
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

func (f *Fingerprinter) run(ctx context.Context, host entity.Host, port int, probe Probe) (entity.ServiceFingerprint, bool) {
	log := f.Log.WithFields(logrus.Fields{
		"host":     host,
		"port":     port,
		"service":  probe.Service,
		"strategy": probe.Strategy,
	})

	var (
		fp entity.ServiceFingerprint
		ok bool
	)
	err := f.Limiter.Do(ctx, func() error {
		var err error
		switch probe.Strategy {
		case StrategyHTTP:
			fp, ok, err = f.probeHTTP(ctx, host, port, probe.Service)
		case StrategyBanner:
			fp, ok, err = f.probeBanner(ctx, host, port, probe.Service)
		}
		return err
	})
	if err != nil {
		log.WithError(err).Debug("Fingerprint probe failed")
		return entity.ServiceFingerprint{}, false
	}
	if !ok {
		log.Debug("Fingerprint probe produced no evidence")
	}
	return fp, ok
}

// dial connects within Timeout. The caller owns the returned connection.
func (f *Fingerprinter) dial(ctx context.Context, host entity.Host, port int) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	d := f.Dialer
	if d == nil {
		d = &net.Dialer{}
	}
	return d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}
