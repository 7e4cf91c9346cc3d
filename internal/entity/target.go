package entity

// Host is a resolved IP address in string form.
type Host = string

// PortSet is an ascending, duplicate-free list of TCP ports in 1..65535.
type PortSet []int

// Contains reports whether p is a member of the set.
func (ps PortSet) Contains(p int) bool {
	lo, hi := 0, len(ps)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch {
		case ps[mid] == p:
			return true
		case ps[mid] < p:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

// PortScanResult is the outcome of probing one host.
type PortScanResult struct {
	Host      Host    `json:"host"`
	OpenPorts PortSet `json:"open_ports"`
}

// HostReport is the terminal per-host aggregate of a vulnerability scan.
type HostReport struct {
	Host      Host      `json:"host"`
	OpenPorts PortSet   `json:"open_ports"`
	Findings  []Finding `json:"findings"`
}

// ScanResult drops the findings of a report, which is what a plain network
// scan emits.
func (r HostReport) ScanResult() PortScanResult {
	return PortScanResult{Host: r.Host, OpenPorts: r.OpenPorts}
}
