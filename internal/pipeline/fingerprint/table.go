package fingerprint

import "bytemomo/sonar/internal/entity"

// Strategy is the kind of interaction used to fingerprint a port.
type Strategy int

const (
	StrategyNone Strategy = iota
	// StrategyHTTP sends a minimal GET request and inspects response headers.
	StrategyHTTP
	// StrategyBanner waits for the service to greet first and records it.
	StrategyBanner
)

func (s Strategy) String() string {
	switch s {
	case StrategyHTTP:
		return "http"
	case StrategyBanner:
		return "banner"
	default:
		return "none"
	}
}

// Probe binds a port to the service it is assumed to run and the strategy
// used to fingerprint it.
type Probe struct {
	Service  entity.Service
	Strategy Strategy
}

// Table maps port numbers to probes. Ports absent from the table are not
// fingerprinted. Dispatch is by number only, never by content.
type Table map[int]Probe

// DefaultTable is the built-in port dispatch table.
var DefaultTable = Table{
	80:   {Service: entity.ServiceHTTP, Strategy: StrategyHTTP},
	8080: {Service: entity.ServiceHTTP, Strategy: StrategyHTTP},
	8000: {Service: entity.ServiceHTTP, Strategy: StrategyHTTP},
	22:   {Service: entity.ServiceSSH, Strategy: StrategyBanner},
	21:   {Service: entity.ServiceFTP, Strategy: StrategyBanner},
	25:   {Service: entity.ServiceSMTP, Strategy: StrategyBanner},
}

// Lookup returns the probe for port, if any.
func (t Table) Lookup(port int) (Probe, bool) {
	p, ok := t[port]
	if !ok || p.Strategy == StrategyNone {
		return Probe{}, false
	}
	return p, true
}
