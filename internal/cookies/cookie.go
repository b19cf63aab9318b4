// Package cookies validates authentication cookies before they reach a browser page.
//
// Cookie values are secrets. Nothing in this package writes a value into an error
// message or a log field; use SanitizeForLogging or LogField when cookies need to be
// described.
package cookies

import (
	"fmt"
	"regexp"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/pagelens/internal/apperrors"
)

const (
	MaxNameLength   = 255
	MaxValueBytes   = 4096
	MaxDomainLength = 255
	MaxPathLength   = 1024
	MaxCookies      = 50
	MaxPayloadBytes = 50 * 1024
	// MaxExpires is the largest expiry accepted, in seconds since the epoch (2^31-1).
	MaxExpires = 1<<31 - 1
)

var (
	namePattern   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	domainPattern = regexp.MustCompile(`^\.?[A-Za-z0-9.-]+$`)
)

// SameSite values accepted by Chrome.
const (
	SameSiteStrict = "Strict"
	SameSiteLax    = "Lax"
	SameSiteNone   = "None"
)

// Cookie is one authentication cookie to inject into a page before navigation.
// Expires is seconds since the epoch; zero means a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Clear drops the cookie's value.
//
// Go strings are immutable, so this only releases the reference; the bytes stay in
// memory until the garbage collector reuses them. It gives no guarantee against a
// memory dump.
func (c *Cookie) Clear() {
	c.Value = ""
}

// ClearAll clears every cookie in place.
func ClearAll(cookies []Cookie) {
	for i := range cookies {
		cookies[i].Clear()
	}
}

// Validate accepts either a []Cookie or its JSON form (string or []byte) and returns
// the validated cookies. On failure the error is a *apperrors.ValidationError that
// names every violated field.
func Validate(input any) ([]Cookie, error) {
	var cookies []Cookie
	switch v := input.(type) {
	case nil:
		return nil, nil
	case []Cookie:
		cookies = make([]Cookie, len(v))
		copy(cookies, v)
	case string:
		parsed, err := parseJSON([]byte(v))
		if err != nil {
			return nil, err
		}
		cookies = parsed
	case []byte:
		parsed, err := parseJSON(v)
		if err != nil {
			return nil, err
		}
		cookies = parsed
	default:
		verr := &apperrors.ValidationError{}
		verr.Add("cookies", "must be an array of cookies or a JSON string, got %T", input)
		return nil, verr
	}

	verr := &apperrors.ValidationError{}
	if len(cookies) > MaxCookies {
		verr.Add("cookies", "at most %d cookies are allowed, got %d", MaxCookies, len(cookies))
	}
	for i := range cookies {
		verr.Merge(fmt.Sprintf("cookies[%d]", i), validateCookie(&cookies[i]))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return cookies, nil
}

func parseJSON(raw []byte) ([]Cookie, error) {
	verr := &apperrors.ValidationError{}
	if len(raw) > MaxPayloadBytes {
		verr.Add("cookies", "JSON payload exceeds %d bytes", MaxPayloadBytes)
		return nil, verr
	}
	var cookies []Cookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		// The decoder error quotes the input around the failure point, which may be a value.
		verr.Add("cookies", "must be a valid JSON array of cookie objects")
		return nil, verr
	}
	return cookies, nil
}

func validateCookie(c *Cookie) *apperrors.ValidationError {
	verr := &apperrors.ValidationError{}

	switch {
	case c.Name == "":
		verr.Add("name", "is required")
	case len(c.Name) > MaxNameLength:
		verr.Add("name", "must be at most %d characters", MaxNameLength)
	case ContainsSuspiciousPatterns(c.Name):
		verr.Add("name", "contains disallowed content")
	case !namePattern.MatchString(c.Name):
		verr.Add("name", "may only contain letters, digits, '_' and '-'")
	}

	if len(c.Value) > MaxValueBytes {
		verr.Add("value", "must be at most %d bytes", MaxValueBytes)
	}

	if c.Domain != "" {
		switch {
		case len(c.Domain) > MaxDomainLength:
			verr.Add("domain", "must be at most %d characters", MaxDomainLength)
		case ContainsSuspiciousPatterns(c.Domain):
			verr.Add("domain", "contains disallowed content")
		case !domainPattern.MatchString(c.Domain):
			verr.Add("domain", "may only contain letters, digits, '.' and '-'")
		}
	}

	if c.Path != "" {
		if len(c.Path) > MaxPathLength {
			verr.Add("path", "must be at most %d characters", MaxPathLength)
		} else if c.Path[0] != '/' {
			verr.Add("path", "must start with '/'")
		}
	}

	if c.Expires < 0 || c.Expires > MaxExpires {
		verr.Add("expires", "must be between 0 and %d", MaxExpires)
	}

	switch c.SameSite {
	case "", SameSiteStrict, SameSiteLax, SameSiteNone:
	default:
		verr.Add("sameSite", "must be one of Strict, Lax, None")
	}

	return verr
}
