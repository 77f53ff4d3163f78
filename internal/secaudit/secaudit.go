package secaudit

import (
	"context"
	"regexp"
	"strings"

	"github.com/indexpilot/indexpilot/internal/apperr"
)

// Status of a single audited requirement or capability.
type Status string

const (
	StatusOK            Status = "OK"
	StatusMissing       Status = "MISSING"
	StatusMisconfigured Status = "MISCONFIGURED"
)

// Capability is the result of probing one required grant.
type Capability struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Probe checks one capability. A PermissionError maps to MISSING, any other
// error to MISCONFIGURED; probes must never panic or crash the caller.
type Probe struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunProbes executes all probes and folds their outcomes into statuses.
func RunProbes(ctx context.Context, probes []Probe) []Capability {
	caps := make([]Capability, 0, len(probes))
	for _, p := range probes {
		c := Capability{Name: p.Name, Status: StatusOK}
		if err := p.Run(ctx); err != nil {
			if apperr.IsPermission(err) {
				c.Status = StatusMissing
			} else {
				c.Status = StatusMisconfigured
			}
			c.Detail = err.Error()
		}
		caps = append(caps, c)
	}
	return caps
}

// identRe matches the identifiers this system is willing to interpolate into
// remote commands, even though they are additionally quoted at the call site.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// ValidateIdentifier rejects malformed schema/table/index identifiers before
// any remote command is constructed.
func ValidateIdentifier(field, v string) error {
	if v == "" {
		return &apperr.ValidationError{Field: field, Value: v, Msg: "empty identifier"}
	}
	if len(v) > 128 {
		return &apperr.ValidationError{Field: field, Value: v, Msg: "identifier too long"}
	}
	if !identRe.MatchString(v) {
		return &apperr.ValidationError{Field: field, Value: v, Msg: "identifier contains disallowed characters"}
	}
	return nil
}

// ValidateIndexIdentity checks all identifier parts of one index reference.
func ValidateIndexIdentity(schema, table, index string) error {
	if err := ValidateIdentifier("schema", schema); err != nil {
		return err
	}
	if err := ValidateIdentifier("table", table); err != nil {
		return err
	}
	return ValidateIdentifier("index", index)
}

var secretPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"password assignment", regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|apikey|api_key)\s*[=:]\s*\S+`)},
	{"connection credential", regexp.MustCompile(`(?i)[a-z][a-z0-9+.-]*://[^/\s:@]+:[^@\s]+@`)},
	{"aws access key id", regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"private key block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"bearer token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}`)},
}

// longTokenRe catches opaque high-entropy runs such as pasted keys.
var longTokenRe = regexp.MustCompile(`\b[A-Za-z0-9+/=_-]{40,}\b`)

// ContainsSecret reports whether s looks like it carries credential material.
// The returned reason names the matched shape for the audit log.
func ContainsSecret(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, p := range secretPatterns {
		if p.re.MatchString(s) {
			return p.name, true
		}
	}
	if tok := longTokenRe.FindString(s); tok != "" && mixedAlphabet(tok) {
		return "opaque token", true
	}
	return "", false
}

// mixedAlphabet filters out long but innocent runs such as hex table names or
// all-lowercase words; real keys mix cases and digits.
func mixedAlphabet(s string) bool {
	var lower, upper, digit bool
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	return lower && upper && digit
}

// AuditParams scans parameter name/value/comment triples and returns a
// validation error naming the first offending field, if any.
func AuditParams(values map[string]string) error {
	for field, v := range values {
		if reason, found := ContainsSecret(v); found {
			return &apperr.ValidationError{
				Field: field,
				Value: truncate(v, 24),
				Msg:   "credential-shaped text rejected: " + reason,
			}
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
