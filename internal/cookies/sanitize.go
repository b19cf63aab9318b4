package cookies

import (
	"regexp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// suspiciousPatterns flag markup or script that has no business in a cookie name or domain.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<`),
	regexp.MustCompile(`(?i)(javascript|data|vbscript)\s*:`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
	regexp.MustCompile(`(?i)\b(document|window)\s*\.`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bset(Timeout|Interval)\s*\(`),
}

// ContainsSuspiciousPatterns reports whether text looks like an injection attempt.
func ContainsSuspiciousPatterns(text string) bool {
	for _, p := range suspiciousPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// SanitizedCookie describes a cookie without its value.
type SanitizedCookie struct {
	Name        string  `json:"name"`
	Domain      string  `json:"domain,omitempty"`
	Path        string  `json:"path,omitempty"`
	HTTPOnly    bool    `json:"httpOnly"`
	Secure      bool    `json:"secure"`
	SameSite    string  `json:"sameSite,omitempty"`
	Expires     float64 `json:"expires,omitempty"`
	ValueLength int     `json:"valueLength"`
	HasValue    bool    `json:"hasValue"`
}

// SanitizeForLogging returns a value-free description of each cookie.
func SanitizeForLogging(cookies []Cookie) []SanitizedCookie {
	out := make([]SanitizedCookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, SanitizedCookie{
			Name:        c.Name,
			Domain:      c.Domain,
			Path:        c.Path,
			HTTPOnly:    c.HTTPOnly,
			Secure:      c.Secure,
			SameSite:    c.SameSite,
			Expires:     c.Expires,
			ValueLength: len(c.Value),
			HasValue:    c.Value != "",
		})
	}
	return out
}

func (s SanitizedCookie) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", s.Name)
	if s.Domain != "" {
		enc.AddString("domain", s.Domain)
	}
	if s.Path != "" {
		enc.AddString("path", s.Path)
	}
	enc.AddBool("httpOnly", s.HTTPOnly)
	enc.AddBool("secure", s.Secure)
	if s.SameSite != "" {
		enc.AddString("sameSite", s.SameSite)
	}
	enc.AddInt("valueLength", s.ValueLength)
	enc.AddBool("hasValue", s.HasValue)
	return nil
}

type sanitizedList []SanitizedCookie

func (l sanitizedList) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, s := range l {
		if err := enc.AppendObject(s); err != nil {
			return err
		}
	}
	return nil
}

// LogField is the only way cookies should reach a logger.
func LogField(cookies []Cookie) zap.Field {
	return zap.Array("cookies", sanitizedList(SanitizeForLogging(cookies)))
}
