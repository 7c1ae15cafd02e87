package logging

import (
	"log/slog"
	"regexp"
	"strings"

	"mercator-hq/gatekeeper/pkg/config"
)

// Redactor redacts PII (Personally Identifiable Information) from log fields
// and from the context excerpts kept in the override ledger.
type Redactor struct {
	// patterns are applied in order; earlier patterns see the raw text.
	patterns []*redactPattern
}

// redactPattern contains a compiled regex and either a replacement string
// or a replacement function.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
	replace     func(string) string
}

// Common PII pattern names.
const (
	PatternAPIKey      = "api_key"
	PatternEmail       = "email"
	PatternSSN         = "ssn"
	PatternCreditCard  = "credit_card"
	PatternIPv4        = "ipv4"
	PatternIPv6        = "ipv6"
	PatternPhone       = "phone"
	PatternPassword    = "password"
	PatternBearerToken = "bearer_token"
)

// defaultPatterns lists the built-in patterns. Token-shaped secrets go first
// so that the numeric patterns below never see half of a key.
var defaultPatterns = []struct {
	name        string
	regex       string
	replacement string
	replace     func(string) string
}{
	{name: PatternBearerToken, regex: `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, replacement: "Bearer ***"},
	{name: PatternAPIKey, regex: `(sk-[a-zA-Z0-9_-]+|api[-_]?key[-_:=]\s*[a-zA-Z0-9]+)`, replacement: "sk-***"},
	{name: PatternPassword, regex: `(password|passwd|pwd)[:=]\s*[^\s]+`, replacement: "$1: ***"},
	{name: PatternEmail, regex: `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, replace: RedactEmail},
	{name: PatternIPv6, regex: `\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`, replacement: "****:****:****:****:****:****:****:****"},
	{name: PatternIPv4, regex: `\b(?:\d{1,3}\.){3}\d{1,3}\b`, replace: RedactIPv4},
	{name: PatternCreditCard, regex: `\b(?:\d[ -]?){12,15}\d\b`, replace: RedactCreditCard},
	{name: PatternSSN, regex: `\b\d{3}-\d{2}-\d{4}\b`, replacement: "***-**-****"},
	{name: PatternPhone, regex: `\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`, replacement: "***-***-****"},
}

// NewRedactor creates a new Redactor with default and custom patterns.
// A custom pattern with the name of a default one replaces it. Invalid
// custom patterns are skipped; config validation reports them earlier.
func NewRedactor(customPatterns []config.RedactPattern) *Redactor {
	r := &Redactor{}

	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.regex),
			replacement: p.replacement,
			replace:     p.replace,
		})
	}

	for _, p := range customPatterns {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		rp := &redactPattern{name: p.Name, regex: regex, replacement: p.Replacement}
		if i := r.index(p.Name); i >= 0 {
			r.patterns[i] = rp
		} else {
			r.patterns = append(r.patterns, rp)
		}
	}

	return r
}

func (r *Redactor) index(name string) int {
	for i, p := range r.patterns {
		if p.name == name {
			return i
		}
	}
	return -1
}

// RedactString redacts PII from a string value.
func (r *Redactor) RedactString(value string) string {
	if r == nil || value == "" {
		return value
	}

	redacted := value
	for _, p := range r.patterns {
		if p.replace != nil {
			redacted = p.regex.ReplaceAllStringFunc(redacted, p.replace)
		} else {
			redacted = p.regex.ReplaceAllString(redacted, p.replacement)
		}
	}

	return redacted
}

// RedactAttr redacts a single slog attribute. It is installed as the
// handler's ReplaceAttr so every component logging through slog is covered.
func (r *Redactor) RedactAttr(groups []string, a slog.Attr) slog.Attr {
	if r == nil {
		return a
	}
	if len(groups) == 0 {
		switch a.Key {
		case slog.TimeKey, slog.LevelKey, slog.SourceKey, slog.MessageKey:
			return a
		}
	}

	switch a.Value.Kind() {
	case slog.KindString:
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, redactValue(a.Value.String()))
		}
		return slog.String(a.Key, r.RedactString(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok && err != nil {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, "***")
		}
	}
	return a
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)

	sensitiveKeys := []string{
		"password", "passwd", "pwd",
		"secret", "token", "api_key", "apikey",
		"auth", "authorization",
		"ssn", "social_security",
		"credit_card", "creditcard",
		"private_key", "privatekey",
	}

	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}

	return false
}

// redactValue redacts a sensitive value, keeping a short prefix for debugging.
func redactValue(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "***"
	}
	return v[:4] + "***"
}

// RedactEmail redacts an email address partially (shows first char and domain).
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return email
	}

	username := parts[0]
	domain := parts[1]

	if len(username) == 0 {
		return "***@" + domain
	}

	return string(username[0]) + "***@" + domain
}

// RedactIPv4 redacts an IPv4 address, keeping only the first octet.
func RedactIPv4(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ip
	}

	return parts[0] + ".*.*.*"
}

// RedactCreditCard redacts a credit card number, keeping only last 4 digits.
func RedactCreditCard(cc string) string {
	cleaned := strings.ReplaceAll(cc, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")

	if len(cleaned) < 13 || len(cleaned) > 16 {
		return cc
	}

	last4 := cleaned[len(cleaned)-4:]
	return "****-****-****-" + last4
}
