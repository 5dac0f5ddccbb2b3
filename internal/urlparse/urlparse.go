// Package urlparse validates raw URL input and decomposes it into the parts
// the scoring engine matches against. It is purely syntactic: no DNS, no
// network access.
package urlparse

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"github.com/opensource-finance/phishguard/internal/domain"
)

// ParsedURL is the structured form of a raw URL. Hostname is lower-cased;
// the raw string itself is kept by the caller.
type ParsedURL struct {
	Scheme   string
	Hostname string
	Path     string
	Query    string

	// BaseDomain is the last two dot-separated labels of Hostname, or the
	// whole hostname when it has fewer than two labels.
	BaseDomain string

	// TLD is the last label of Hostname with a leading dot.
	TLD string

	// RegistrableDomain is the public-suffix aware eTLD+1, falling back to
	// Hostname when it cannot be derived (IP literals, bare suffixes).
	RegistrableDomain string
}

// Parse validates raw and returns its parts. It fails with an error
// wrapping domain.ErrInvalidURL when raw is not an absolute URL with both a
// scheme and a host. Hosts ending in a numeric label are parsed as IPv4 and
// rewritten to dotted-quad form.
func Parse(raw string) (*ParsedURL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: url is required", domain.ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: missing scheme", domain.ErrInvalidURL)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", domain.ErrInvalidURL)
	}
	if !isASCII(host) {
		ascii, err := idna.Punycode.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid host %q: %v", domain.ErrInvalidURL, host, err)
		}
		host = ascii
	}
	// IPv6 literals keep their brackets, as browsers report them.
	if strings.HasPrefix(u.Host, "[") {
		host = "[" + host + "]"
	} else if endsInNumber(host) {
		ip, err := canonicalIPv4(host)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid ipv4 host %q", domain.ErrInvalidURL, host)
		}
		host = ip
	}

	path := u.EscapedPath()
	if path == "" && u.Opaque == "" {
		path = "/"
	}

	return &ParsedURL{
		Scheme:            u.Scheme,
		Hostname:          host,
		Path:              path,
		Query:             u.RawQuery,
		BaseDomain:        BaseDomain(host),
		TLD:               TLD(host),
		RegistrableDomain: registrable(host),
	}, nil
}

// BaseDomain approximates the registrable domain by taking the last two
// labels of host.
func BaseDomain(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return host
	}
	return labels[len(labels)-2] + "." + labels[len(labels)-1]
}

// TLD returns the last label of host with a leading dot.
func TLD(host string) string {
	return "." + host[strings.LastIndex(host, ".")+1:]
}

func registrable(host string) string {
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return host
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
