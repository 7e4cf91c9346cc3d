package entity

// Service names a protocol recognised by the fingerprinter.
type Service string

const (
	ServiceHTTP Service = "http"
	ServiceSSH  Service = "ssh"
	ServiceFTP  Service = "ftp"
	ServiceSMTP Service = "smtp"
)

// MetaHeaders is the Meta key holding lower-cased HTTP response headers.
const MetaHeaders = "headers"

// ServiceFingerprint is the evidence extracted from one open port.
// Evidence is never empty; probes that produce nothing are dropped.
type ServiceFingerprint struct {
	Service  Service        `json:"service"`
	Port     int            `json:"port"`
	Evidence string         `json:"evidence"`
	Meta     map[string]any `json:"meta"`
}

// Headers returns the HTTP header map stored in Meta, or nil.
func (fp ServiceFingerprint) Headers() map[string]string {
	if fp.Meta == nil {
		return nil
	}
	h, _ := fp.Meta[MetaHeaders].(map[string]string)
	return h
}
