package cookies

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/net/publicsuffix"
)

// LoadFile reads a JSON array of cookies from path ("~" is expanded) and validates it.
func LoadFile(path string) ([]Cookie, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding cookie file path: %w", err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return nil, fmt.Errorf("reading cookie file: %w", err)
	}
	if info.Size() > MaxPayloadBytes {
		return nil, fmt.Errorf("cookie file %s exceeds %d bytes", expanded, MaxPayloadBytes)
	}
	raw, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("reading cookie file: %w", err)
	}
	cookies, err := Validate(raw)
	if err != nil {
		return nil, fmt.Errorf("cookie file %s: %w", expanded, err)
	}
	return cookies, nil
}

// Merge returns defaults overlaid with overrides. A cookie in overrides replaces the
// default with the same name, domain and path.
func Merge(defaults, overrides []Cookie) []Cookie {
	if len(overrides) == 0 {
		return append([]Cookie(nil), defaults...)
	}
	key := func(c Cookie) string {
		return c.Name + "\x00" + strings.ToLower(strings.TrimPrefix(c.Domain, ".")) + "\x00" + c.Path
	}
	replaced := make(map[string]struct{}, len(overrides))
	for _, c := range overrides {
		replaced[key(c)] = struct{}{}
	}
	merged := make([]Cookie, 0, len(defaults)+len(overrides))
	for _, c := range defaults {
		if _, ok := replaced[key(c)]; !ok {
			merged = append(merged, c)
		}
	}
	return append(merged, overrides...)
}

// ForURL keeps the cookies a browser would send to rawURL: those without a domain
// (bound to the URL's host) and those whose domain domain-matches the host. Cookies
// scoped to a public suffix such as "co.uk" only match that exact host.
func ForURL(cookies []Cookie, rawURL string) []Cookie {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Domain == "" || domainMatches(host, c.Domain) {
			out = append(out, c)
		}
	}
	return out
}

func domainMatches(host, domain string) bool {
	d := strings.ToLower(strings.TrimPrefix(domain, "."))
	if d == "" {
		return false
	}
	if host == d {
		return true
	}
	if suffix, _ := publicsuffix.PublicSuffix(d); suffix == d {
		return false
	}
	return strings.HasSuffix(host, "."+d)
}
