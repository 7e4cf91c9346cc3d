// Package target expands user supplied targets into concrete host addresses.
package target

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/bits"
	"net/netip"
	"strings"
	"time"

	"bytemomo/sonar/internal/entity"
	"bytemomo/sonar/internal/sonarerr"

	"github.com/sirupsen/logrus"
)

// MaxBlockBits caps CIDR expansion at 2^MaxBlockBits addresses per block.
const MaxBlockBits = 20

// Expander turns IP literals, hostnames and CIDR blocks into a deduplicated
// host list that preserves first-seen order.
type Expander struct {
	Log      *logrus.Entry
	Resolver Resolver
	// Timeout bounds each hostname lookup. Zero means no extra bound.
	Timeout time.Duration
}

// NewExpander returns an Expander using the system resolver.
func NewExpander(log *logrus.Entry, timeout time.Duration) *Expander {
	return &Expander{Log: log, Resolver: SystemResolver{}, Timeout: timeout}
}

// Expand resolves every target. Targets that fail to resolve are dropped.
// The only error is a configuration error for a CIDR block too large to
// enumerate.
func (e *Expander) Expand(ctx context.Context, targets []string) ([]entity.Host, error) {
	var hosts []entity.Host
	seen := make(map[string]struct{})
	add := func(h string) {
		if _, dup := seen[h]; dup {
			return
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}

	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}

		if strings.Contains(t, "/") {
			if prefix, ok := parseBlock(t); ok {
				block, err := enumerate(prefix)
				if err != nil {
					return nil, err
				}
				for _, a := range block {
					add(a)
				}
				continue
			}
			// Not a CIDR block; treat it like any other name.
		}

		if _, err := netip.ParseAddr(t); err == nil {
			add(t)
			continue
		}

		if h, ok := e.resolve(ctx, t); ok {
			add(h)
		}
	}

	e.log().WithFields(logrus.Fields{
		"targets": len(targets),
		"hosts":   len(hosts),
	}).Debug("Expanded targets")
	return hosts, nil
}

func (e *Expander) resolve(ctx context.Context, name string) (string, bool) {
	if e.Resolver == nil {
		return "", false
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	h, err := e.Resolver.LookupHost(ctx, name)
	if err != nil {
		e.log().WithError(err).WithField("target", name).Debug("Dropping unresolvable target")
		return "", false
	}
	return h, true
}

func (e *Expander) log() *logrus.Entry {
	if e.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return e.Log
}

// parseBlock parses a CIDR block. IPv4 blocks may also carry a dotted
// netmask (10.0.0.0/255.255.255.0) or hostmask (10.0.0.0/0.0.0.255).
func parseBlock(s string) (netip.Prefix, bool) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix, true
	}
	addrPart, maskPart, _ := strings.Cut(s, "/")
	addr, err := netip.ParseAddr(addrPart)
	if err != nil || !addr.Is4() {
		return netip.Prefix{}, false
	}
	mask, err := netip.ParseAddr(maskPart)
	if err != nil || !mask.Is4() {
		return netip.Prefix{}, false
	}
	m4 := mask.As4()
	m := binary.BigEndian.Uint32(m4[:])
	if n, ok := leadingOnes(m); ok {
		return netip.PrefixFrom(addr, n), true
	}
	if n, ok := leadingOnes(^m); ok {
		return netip.PrefixFrom(addr, n), true
	}
	return netip.Prefix{}, false
}

// leadingOnes reports the prefix length of m when its set bits are contiguous
// from the top.
func leadingOnes(m uint32) (int, bool) {
	n := bits.LeadingZeros32(^m)
	return n, m<<n == 0
}

// enumerate lists the usable host addresses of a block in address order.
// Host bits set in the input are ignored.
func enumerate(prefix netip.Prefix) ([]string, error) {
	prefix = prefix.Masked()
	first := prefix.Addr()
	hostBits := first.BitLen() - prefix.Bits()
	if hostBits > MaxBlockBits {
		return nil, sonarerr.Config("target.Expand",
			fmt.Sprintf("block %s has 2^%d addresses, limit is 2^%d", prefix, hostBits, MaxBlockBits), nil)
	}

	total := 1 << hostBits
	all := make([]string, 0, total)
	a := first
	for i := 0; i < total; i++ {
		all = append(all, a.String())
		a = a.Next()
	}

	switch {
	case hostBits == 0:
		return all, nil
	case hostBits == 1:
		// Point-to-point blocks (/31, /127) have no network or broadcast address.
		return all, nil
	case first.Is4():
		return all[1 : len(all)-1], nil
	default:
		// IPv6 has no broadcast; only the subnet-router anycast address is skipped.
		return all[1:], nil
	}
}
