package main

import (
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// First label allows digits, suffix labels do not. Deliberately stricter
// than RFC 1035: feeds full of garbage tokens are the common case.
var hostnameRe = regexp.MustCompile(`^[a-z0-9-]{1,63}(\.[a-z-]{2,63})+$`)

// Last-resort pattern for payloads whose declared structure produced nothing
// usable: anything that looks like a domain sitting in quotes, brackets or
// whitespace.
var rescanRe = regexp.MustCompile(`(?i)\b[a-z0-9][a-z0-9.-]{0,251}\.[a-z]{2,24}\b`)

// normalizeDomain lowercases and trims a candidate, then applies the
// hostname grammar and a public-suffix check. The cleaned domain is returned
// only when the candidate has both a registrable label and a known suffix,
// which rejects bare TLDs ("com") and suffix-only names ("co.uk").
func normalizeDomain(candidate string) (string, bool) {
	d := strings.ToLower(candidate)
	d = strings.Trim(d, " \t\r\n.,@")
	if d == "" || !hostnameRe.MatchString(d) {
		return "", false
	}

	suffix, _ := publicsuffix.PublicSuffix(d)
	if suffix == "" || suffix == d {
		return "", false
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(d)
	if err != nil || etld1 == "" {
		return "", false
	}
	if strings.TrimSuffix(etld1, "."+suffix) == "" {
		return "", false
	}
	return d, true
}

func isValidDomain(candidate string) bool {
	_, ok := normalizeDomain(candidate)
	return ok
}

// filterDomains validates candidates in order, dropping duplicates.
func filterDomains(candidates []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		d, ok := normalizeDomain(c)
		if !ok {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// rescanForDomains sweeps raw payload text for domain-shaped tokens and
// validates each one. Used only when format-specific extraction came up
// empty.
func rescanForDomains(raw []byte) []string {
	return filterDomains(rescanRe.FindAllString(string(raw), -1))
}
