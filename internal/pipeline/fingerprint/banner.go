package fingerprint

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"bytemomo/sonar/internal/entity"
)

// probeBanner connects, gives the service a moment to speak first and
// records whatever it sent.
func (f *Fingerprinter) probeBanner(ctx context.Context, host entity.Host, port int, svc entity.Service) (entity.ServiceFingerprint, bool, error) {
	conn, err := f.dial(ctx, host, port)
	if err != nil {
		return entity.ServiceFingerprint{}, false, err
	}
	defer conn.Close()

	if grace := f.grace(); grace > 0 {
		t := time.NewTimer(grace)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return entity.ServiceFingerprint{}, false, ctx.Err()
		}
	}

	if err := conn.SetReadDeadline(time.Now().Add(f.Timeout)); err != nil {
		return entity.ServiceFingerprint{}, false, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, f.bannerBudget())
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return entity.ServiceFingerprint{}, false, nil
		}
		return entity.ServiceFingerprint{}, false, err
	}

	banner := strings.TrimSpace(decode(buf[:n]))
	if banner == "" {
		return entity.ServiceFingerprint{}, false, nil
	}
	return entity.ServiceFingerprint{
		Service:  svc,
		Port:     port,
		Evidence: banner,
		Meta:     map[string]any{},
	}, true, nil
}

func (f *Fingerprinter) grace() time.Duration {
	if f.BannerGrace < 0 {
		return 0
	}
	return f.BannerGrace
}

func (f *Fingerprinter) bannerBudget() int {
	if f.BannerReadBudget <= 0 {
		return DefaultBannerReadBudget
	}
	return f.BannerReadBudget
}
