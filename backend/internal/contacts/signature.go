package contacts

import (
	"regexp"
	"strings"
)

// Signature holds contact details found in an email sign-off
type Signature struct {
	Phone        string
	Role         string
	Organization string
}

var (
	phonePattern   = regexp.MustCompile(`(?i)(?:tel|phone|mobile|cell|m|t)?[:.\s]*(\+?\d[\d\s().-]{6,}\d)`)
	signOffPattern = regexp.MustCompile(`(?i)^(best|regards|best regards|kind regards|thanks|thank you|cheers|sincerely|warm regards)[,!.]?$`)
	urlPattern     = regexp.MustCompile(`(?i)(https?://|www\.)`)
)

const signatureScanLines = 8

// ParseSignature looks at the tail of a body for a sign-off block and
// pulls phone, role and organization out of it. Lines after the sender's
// name are read as role then organization.
func ParseSignature(body, senderName string) Signature {
	lines := signatureBlock(body)
	if len(lines) == 0 {
		return Signature{}
	}

	var sig Signature
	var rest []string
	for _, line := range lines {
		if sig.Phone == "" {
			if m := phonePattern.FindStringSubmatch(line); m != nil && digitCount(m[1]) >= 7 {
				sig.Phone = strings.TrimSpace(m[1])
				continue
			}
		}
		if strings.Contains(line, "@") || urlPattern.MatchString(line) {
			continue
		}
		rest = append(rest, line)
	}

	// Skip up to and including the sender's name when it is present
	name := strings.ToLower(cleanName(senderName))
	for i, line := range rest {
		if name != "" && strings.ToLower(line) == name {
			rest = rest[i+1:]
			break
		}
	}

	if len(rest) > 0 && looksLikeTitle(rest[0]) {
		sig.Role = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 && len(rest[0]) <= 80 {
		sig.Organization = rest[0]
	}
	if strings.Contains(sig.Role, ",") && sig.Organization == "" {
		role, org, _ := strings.Cut(sig.Role, ",")
		sig.Role, sig.Organization = strings.TrimSpace(role), strings.TrimSpace(org)
	}
	return sig
}

// signatureBlock returns the non-empty lines after a "-- " delimiter or a
// sign-off line, scanning only the tail of the body.
func signatureBlock(body string) []string {
	all := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	start := -1
	for i := len(all) - 1; i >= 0 && i >= len(all)-signatureScanLines*2; i-- {
		trimmed := strings.TrimSpace(all[i])
		if all[i] == "-- " || trimmed == "--" || signOffPattern.MatchString(trimmed) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil
	}

	var out []string
	for _, l := range all[start:] {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		out = append(out, l)
		if len(out) == signatureScanLines {
			break
		}
	}
	return out
}

var titleWords = []string{
	"manager", "director", "engineer", "lead", "head", "officer", "president",
	"vp", "ceo", "cto", "cfo", "coo", "founder", "architect", "consultant",
	"analyst", "designer", "developer", "owner", "coordinator", "specialist",
}

func looksLikeTitle(line string) bool {
	lower := strings.ToLower(line)
	for _, w := range titleWords {
		for _, f := range strings.FieldsFunc(lower, func(r rune) bool { return r == ' ' || r == ',' || r == '/' || r == '&' }) {
			if f == w {
				return true
			}
		}
	}
	return false
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
