// Package ports turns port specifications into port sets.
package ports

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"bytemomo/sonar/internal/entity"
	"bytemomo/sonar/internal/sonarerr"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// Parse parses a port specification and returns a sorted, deduplicated set.
// Supported forms:
//   - single: "22"
//   - list: "22,80,443"
//   - range: "1-1024" (inclusive; "10-1" is empty)
//   - mixed: "22,80,8000-8100"
//
// Empty segments are ignored. A segment that is not an integer, or a port
// outside 1..65535, fails the whole spec.
func Parse(spec string) (entity.PortSet, error) {
	seen := make(map[int]struct{})
	for _, seg := range strings.Split(spec, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(seg, "-"); ok {
			start, err := parsePort(seg, lo)
			if err != nil {
				return nil, err
			}
			end, err := parsePort(seg, hi)
			if err != nil {
				return nil, err
			}
			for p := start; p <= end; p++ {
				seen[p] = struct{}{}
			}
			continue
		}
		p, err := parsePort(seg, seg)
		if err != nil {
			return nil, err
		}
		seen[p] = struct{}{}
	}

	out := make(entity.PortSet, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out, nil
}

// FromInts normalises an arbitrary list of ports into a PortSet.
func FromInts(in []int) (entity.PortSet, error) {
	seen := make(map[int]struct{}, len(in))
	out := make(entity.PortSet, 0, len(in))
	for _, p := range in {
		if p < MinPort || p > MaxPort {
			return nil, sonarerr.Config("ports.FromInts", fmt.Sprintf("port %d out of range %d-%d", p, MinPort, MaxPort), nil)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return out, nil
}

func parsePort(seg, s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, sonarerr.Config("ports.Parse", fmt.Sprintf("invalid segment %q", seg), err)
	}
	if v < MinPort || v > MaxPort {
		return 0, sonarerr.Config("ports.Parse", fmt.Sprintf("port %d in segment %q out of range %d-%d", v, seg, MinPort, MaxPort), nil)
	}
	return v, nil
}
