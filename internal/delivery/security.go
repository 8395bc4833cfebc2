package delivery

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/northcloud/jobforge/internal/config"
)

// ErrDisallowedWebhookTarget is returned when a webhook URL resolves to an
// address §4.3.4's security policy rejects.
type ErrDisallowedWebhookTarget struct {
	Host   string
	Reason string
}

func (e *ErrDisallowedWebhookTarget) Error() string {
	return fmt.Sprintf("delivery: webhook target %q rejected: %s", e.Host, e.Reason)
}

// cloudMetadataIP is always rejected regardless of configuration — §4.3.4:
// "including cloud metadata 169.254.169.254 — always rejected regardless of
// config."
const cloudMetadataIP = "169.254.169.254"

// ValidateWebhookURL enforces §4.3.4's SSRF guard. An allow-listed domain
// suffix bypasses every other check except the cloud metadata address,
// which is never reachable through this client no matter what.
func ValidateWebhookURL(rawURL string, sec config.OutputSecurityConfig) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("delivery: invalid webhook url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return &ErrDisallowedWebhookTarget{Host: rawURL, Reason: "no host"}
	}

	for _, allowed := range sec.AllowedWebhookDomains {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			if host == cloudMetadataIP {
				return &ErrDisallowedWebhookTarget{Host: host, Reason: "cloud metadata address is always rejected"}
			}
			return nil
		}
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Host doesn't resolve; reject rather than let the HTTP client's own
		// resolution surprise us later with a different, unvetted address.
		return &ErrDisallowedWebhookTarget{Host: host, Reason: "could not resolve host"}
	}

	for _, ip := range ips {
		if err := checkIP(ip, sec); err != nil {
			return err
		}
	}
	return nil
}

func checkIP(ip net.IP, sec config.OutputSecurityConfig) error {
	if ip.String() == cloudMetadataIP {
		return &ErrDisallowedWebhookTarget{Host: ip.String(), Reason: "cloud metadata address is always rejected"}
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return &ErrDisallowedWebhookTarget{Host: ip.String(), Reason: "link-local address"}
	}
	if ip.IsMulticast() {
		return &ErrDisallowedWebhookTarget{Host: ip.String(), Reason: "multicast address"}
	}
	if ip.IsUnspecified() || (ip.To4() != nil && ip.To4()[0] == 0) {
		return &ErrDisallowedWebhookTarget{Host: ip.String(), Reason: "unspecified/this-network address"}
	}
	if !sec.AllowLocalhostWebhooks && ip.IsLoopback() {
		return &ErrDisallowedWebhookTarget{Host: ip.String(), Reason: "loopback address"}
	}
	if !sec.AllowPrivateNetworkWebhooks && isPrivate(ip) {
		return &ErrDisallowedWebhookTarget{Host: ip.String(), Reason: "private network address"}
	}
	return nil
}

// isPrivate reports RFC 1918 (IPv4) and fc00::/7 (IPv6) membership; Go's
// net.IP has no built-in helper for this the way it does for loopback and
// link-local.
func isPrivate(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 10:
			return true
		case ip4[0] == 172 && ip4[1]&0xf0 == 16:
			return true
		case ip4[0] == 192 && ip4[1] == 168:
			return true
		}
		return false
	}
	return len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc
}
