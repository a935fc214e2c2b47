package features

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// FeatureNames lists the phishing features in the order models expect them.
var FeatureNames = [NumFeatures]string{
	"has_https",
	"domain_length",
	"subdomain_depth",
	"has_ip",
	"has_suspicious_chars",
	"url_length",
	"num_digits",
	"num_special_chars",
	"num_periods",
	"num_slashes",
	"text_length",
	"has_suspicious_keywords",
	"num_exclamation",
	"num_question",
	"has_money_symbols",
}

const NumFeatures = 15

const (
	idxHasHTTPS = iota
	idxDomainLength
	idxSubdomainDepth
	idxHasIP
	idxHasSuspiciousChars
	idxURLLength
	idxNumDigits
	idxNumSpecialChars
	idxNumPeriods
	idxNumSlashes
	idxTextLength
	idxHasSuspiciousKeywords
	idxNumExclamation
	idxNumQuestion
	idxHasMoneySymbols
)

var (
	urlPrefixRe       = regexp.MustCompile(`^https?://`)
	// Digits and word boundaries are Unicode-aware: RE2's \d and \b are
	// ASCII only, so Arabic-Indic and other decimal digits are spelled out.
	ipv4Re            = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])\p{Nd}{1,3}\.\p{Nd}{1,3}\.\p{Nd}{1,3}\.\p{Nd}{1,3}(?:$|[^\p{L}\p{N}_])`)
	suspiciousCharsRe = regexp.MustCompile(`[@\-_.]{2,}`)
	digitRe           = regexp.MustCompile(`\p{Nd}`)
	specialCharRe     = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)

	suspiciousKeywords = []string{"urgent", "verify", "account", "password", "click"}
	moneySymbols       = []string{"$", "€", "£", "¥"}
)

// Vector is the fixed-order phishing feature vector. The zero value has every
// feature set to 0.
type Vector struct {
	values [NumFeatures]float64
}

// Values returns a copy of the 15 values in FeatureNames order.
func (v Vector) Values() []float64 {
	out := make([]float64, NumFeatures)
	copy(out, v.values[:])
	return out
}

// Float32 returns the values as float32, the element type model runtimes use.
func (v Vector) Float32() []float32 {
	out := make([]float32, NumFeatures)
	for i, x := range v.values {
		out[i] = float32(x)
	}
	return out
}

// Get returns a feature by name.
func (v Vector) Get(name string) (float64, bool) {
	for i, n := range FeatureNames {
		if n == name {
			return v.values[i], true
		}
	}
	return 0, false
}

// Map returns the name to value mapping.
func (v Vector) Map() map[string]float64 {
	out := make(map[string]float64, NumFeatures)
	for i, n := range FeatureNames {
		out[n] = v.values[i]
	}
	return out
}

func (v Vector) HasSuspiciousKeywords() bool { return v.values[idxHasSuspiciousKeywords] == 1 }
func (v Vector) NumExclamation() int         { return int(v.values[idxNumExclamation]) }
func (v Vector) HasIP() bool                 { return v.values[idxHasIP] == 1 }
func (v Vector) HasSuspiciousChars() bool    { return v.values[idxHasSuspiciousChars] == 1 }

// IsURL reports whether the input is treated as a URL rather than free text.
func IsURL(s string) bool {
	return urlPrefixRe.MatchString(s)
}

// ExtractText builds the phishing feature vector for a URL or free text.
// Exactly one of the URL or text feature groups is populated.
func ExtractText(input string) Vector {
	if IsURL(input) {
		return extractURL(input)
	}
	return extractPlainText(input)
}

func extractURL(raw string) Vector {
	var v Vector

	authority, ok := netloc(raw)
	if !ok {
		n := float64(utf8.RuneCountInString(raw))
		v.values[idxDomainLength] = n
		v.values[idxURLLength] = n
		return v
	}

	host := strings.ToLower(authority)

	v.values[idxHasHTTPS] = boolFloat(strings.HasPrefix(raw, "https"))
	v.values[idxDomainLength] = float64(utf8.RuneCountInString(host))
	v.values[idxSubdomainDepth] = float64(strings.Count(host, "."))
	v.values[idxHasIP] = boolFloat(ipv4Re.MatchString(host))
	v.values[idxHasSuspiciousChars] = boolFloat(suspiciousCharsRe.MatchString(host))
	v.values[idxURLLength] = float64(utf8.RuneCountInString(raw))
	v.values[idxNumDigits] = float64(len(digitRe.FindAllStringIndex(raw, -1)))
	v.values[idxNumSpecialChars] = float64(len(specialCharRe.FindAllStringIndex(raw, -1)))
	v.values[idxNumPeriods] = float64(strings.Count(raw, "."))
	v.values[idxNumSlashes] = float64(strings.Count(raw, "/"))
	return v
}

func extractPlainText(text string) Vector {
	var v Vector

	lower := strings.ToLower(text)

	v.values[idxTextLength] = float64(utf8.RuneCountInString(text))
	v.values[idxNumDigits] = float64(len(digitRe.FindAllStringIndex(text, -1)))
	v.values[idxNumSpecialChars] = float64(len(specialCharRe.FindAllStringIndex(text, -1)))
	v.values[idxHasSuspiciousKeywords] = boolFloat(containsAny(lower, suspiciousKeywords))
	v.values[idxNumExclamation] = float64(strings.Count(text, "!"))
	v.values[idxNumQuestion] = float64(strings.Count(text, "?"))
	v.values[idxHasMoneySymbols] = boolFloat(containsAny(text, moneySymbols))
	return v
}

// netloc returns the authority of a URL: everything after "://" up to the
// first "/", "?" or "#", userinfo and port included, so an "@" trick in the
// link still counts towards the suspicious character check. Path, query and
// escapes are never parsed. It fails only for an unbalanced IPv6 bracket.
func netloc(raw string) (string, bool) {
	_, rest, found := strings.Cut(raw, "://")
	if !found {
		return "", false
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	if strings.Contains(rest, "[") != strings.Contains(rest, "]") {
		return "", false
	}
	return rest, true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
