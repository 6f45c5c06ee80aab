package redirect

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

var (
	errBadScheme      = errors.New("redirect target scheme is not http(s)")
	errLoopbackHost   = errors.New("redirect target is a loopback host")
	errPrivateAddress = errors.New("redirect target is a private address")
	errSuspiciousTLD  = errors.New("redirect target has a suspicious tld")
)

// suspiciousTLDs is policy, not security: a minimal hardcoded set of TLDs
// with heavy abuse history.
var suspiciousTLDs = []string{".tk", ".ml", ".ga", ".cf"}

// permanentHosts are known-stable destinations that warrant a 301; all
// other targets get a 302.
var permanentHosts = map[string]struct{}{
	"youtube.com":       {},
	"youtu.be":          {},
	"github.com":        {},
	"gitlab.com":        {},
	"twitter.com":       {},
	"x.com":             {},
	"facebook.com":      {},
	"instagram.com":     {},
	"linkedin.com":      {},
	"medium.com":        {},
	"stackoverflow.com": {},
}

var privateNets = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"127.0.0.0/8",
)

// guardTarget enforces the open-redirect policy on a stored original URL.
func guardTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errBadScheme
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return errBadScheme
	}

	host := strings.ToLower(u.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return errLoopbackHost
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() {
			return errLoopbackHost
		}
		for _, n := range privateNets {
			if n.Contains(ip) {
				return errPrivateAddress
			}
		}
	}

	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(host, tld) {
			return errSuspiciousTLD
		}
	}
	return nil
}

// redirectStatus picks 301 for the known-stable host allowlist, 302
// otherwise. A leading "www." does not affect the decision.
func redirectStatus(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 302
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if _, ok := permanentHosts[host]; ok {
		return 301
	}
	return 302
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}
