package fingerprint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"bytemomo/sonar/internal/entity"
)

var headerTerminator = []byte("\r\n\r\n")

// probeHTTP sends GET / over HTTP/1.0 and records the Server header. A
// response without a Server header yields no fingerprint.
func (f *Fingerprinter) probeHTTP(ctx context.Context, host entity.Host, port int, svc entity.Service) (entity.ServiceFingerprint, bool, error) {
	conn, err := f.dial(ctx, host, port)
	if err != nil {
		return entity.ServiceFingerprint{}, false, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(f.Timeout)); err != nil {
		return entity.ServiceFingerprint{}, false, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := io.WriteString(conn, buildRequest(host, f.userAgent())); err != nil {
		return entity.ServiceFingerprint{}, false, fmt.Errorf("write request: %w", err)
	}

	raw, err := readHead(conn, f.httpBudget())
	if len(raw) == 0 && err != nil {
		return entity.ServiceFingerprint{}, false, fmt.Errorf("read response: %w", err)
	}

	headers := ParseHeaders(decode(raw))
	server := headers[entity.DefaultMatchHeader]
	if server == "" {
		return entity.ServiceFingerprint{}, false, nil
	}
	return entity.ServiceFingerprint{
		Service:  svc,
		Port:     port,
		Evidence: server,
		Meta:     map[string]any{entity.MetaHeaders: headers},
	}, true, nil
}

func buildRequest(host, userAgent string) string {
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "GET / HTTP/1.0\r\nHost: " + host + "\r\nUser-Agent: " + userAgent + "\r\n\r\n"
}

// readHead reads until the header block is complete, the peer closes, the
// deadline passes or budget bytes have arrived. Whatever was read is
// returned together with the error that stopped reading, if any.
func readHead(r io.Reader, budget int) ([]byte, error) {
	buf := make([]byte, 0, budget)
	chunk := make([]byte, budget)
	for len(buf) < budget {
		n, err := r.Read(chunk[:budget-len(buf)])
		buf = append(buf, chunk[:n]...)
		if bytes.Contains(buf, headerTerminator) {
			return buf, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) && len(buf) > 0 {
				return buf, nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && len(buf) > 0 {
				return buf, nil
			}
			return buf, err
		}
	}
	return buf, nil
}

// ParseHeaders parses the header block of a raw HTTP response. The status
// line is skipped, names are lower-cased, values trimmed, and parsing stops
// at the first blank line. Later duplicates win.
func ParseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	lines := strings.Split(raw, "\r\n")
	if len(lines) == 0 {
		return headers
	}
	for _, line := range lines[1:] {
		if line == "" {
			break
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return headers
}

// decode drops bytes that are not valid UTF-8.
func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "")
}

func (f *Fingerprinter) userAgent() string {
	if f.UserAgent == "" {
		return DefaultUserAgent
	}
	return f.UserAgent
}

func (f *Fingerprinter) httpBudget() int {
	if f.HTTPReadBudget <= 0 {
		return DefaultHTTPReadBudget
	}
	return f.HTTPReadBudget
}
