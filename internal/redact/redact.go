// Package redact masks credentials, card numbers, email addresses and link
// paths in user-submitted text before it is logged or audited.
package redact

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

const mask = "[REDACTED]"

type rule struct {
	re   *regexp.Regexp
	repl func(m []string) string
}

// rules run in order. Credential rules keep their label (group 1) so the
// output still shows what was hidden.
var rules = []rule{
	{regexp.MustCompile(`(?i)(authorization\s*[:=]\s*bearer\s+)([A-Za-z0-9._\-+/=]+)`), keepLabel},
	{regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-+/=]+)`), keepLabel},
	{regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*)([A-Za-z0-9._\-+/=]+)`), keepLabel},
	{regexp.MustCompile(`(?i)(pass(?:word|wd)?\s*[:=]\s*)(\S+)`), keepLabel},
	{regexp.MustCompile(`(?i)\b(key|token|secret|otp|pin)\s*[:=]\s*([A-Za-z0-9._\-+/=]{4,})`), func(m []string) string {
		if strings.Contains(m[0], mask) {
			return m[0]
		}
		return m[1] + "=" + mask
	}},
	{regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), constant("[REDACTED_NUMBER]")},
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), constant("[REDACTED_EMAIL]")},
	{regexp.MustCompile(`https?://[^\s"'<>]+`), func(m []string) string { return link(m[0]) }},
}

func keepLabel(m []string) string { return m[1] + mask }

func constant(s string) func([]string) string {
	return func([]string) string { return s }
}

// String applies every masking rule to s.
func String(s string) string {
	if s == "" {
		return s
	}
	out := s
	for _, r := range rules {
		out = r.re.ReplaceAllStringFunc(out, func(match string) string {
			return r.repl(r.re.FindStringSubmatch(match))
		})
	}
	for strings.Contains(out, mask+mask) {
		out = strings.ReplaceAll(out, mask+mask, mask)
	}
	return out
}

// Preview redacts s and cuts it to at most max runes, marking the cut with
// an ellipsis. max <= 0 keeps the whole text.
func Preview(s string, max int) string {
	out := String(strings.TrimSpace(s))
	if max <= 0 || utf8.RuneCountInString(out) <= max {
		return out
	}
	return string([]rune(out)[:max]) + "…"
}

// link keeps scheme, host and the last path segment of a URL. Queries and
// fragments are dropped.
func link(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[REDACTED_URL]"
	}
	prefix := u.Scheme + "://" + u.Host + "/"

	if strings.HasSuffix(u.Path, "/") {
		return prefix + "[REDACTED_PATH]"
	}
	switch base := path.Base(u.Path); base {
	case ".", "/", "":
		return prefix + "[REDACTED_PATH]"
	default:
		return prefix + base
	}
}
