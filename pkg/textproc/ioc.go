package textproc

import (
	"regexp"
	"strings"
)

// Indicator type keys. These are stable lowercase names used in API payloads
// and stored IoC mappings.
const (
	IocTypeIPAddresses = "ip_addresses"
	IocTypeDomains     = "domains"
	IocTypeHashes      = "hashes"
	IocTypeEmails      = "emails"
	IocTypeURLs        = "urls"
)

// IocTypes lists all indicator types in their canonical output order.
var IocTypes = []string{IocTypeIPAddresses, IocTypeDomains, IocTypeHashes, IocTypeEmails, IocTypeURLs}

var (
	ipPattern    = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])\.){3}(?:25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])\b`)
	emailPattern = regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`)
	urlPattern   = regexp.MustCompile(`\bhttps?://[^\s<>"']+`)
	// MD5 (32), SHA-1 (40), SHA-256 (64) hex digests. Longest first so a
	// SHA-256 is not reported as an embedded MD5.
	hashPattern   = regexp.MustCompile(`\b(?:[a-fA-F0-9]{64}|[a-fA-F0-9]{40}|[a-fA-F0-9]{32})\b`)
	domainPattern = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9\-]{0,61}[a-z0-9])?\.)+[a-z]{2,}\b`)
)

// ExtractIOCs scans raw text for indicators of compromise and returns a
// mapping from indicator type to the matched values, deduplicated within
// each type preserving first occurrence. Unmatched text yields an empty
// mapping, never an error. Running it twice on identical text yields
// identical mappings.
func ExtractIOCs(text string) map[string][]string {
	iocs := make(map[string][]string)
	addAll := func(typ string, values []string) {
		if len(values) == 0 {
			return
		}
		seen := make(map[string]struct{}, len(values))
		for _, v := range values {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			iocs[typ] = append(iocs[typ], v)
		}
	}

	addAll(IocTypeIPAddresses, ipPattern.FindAllString(text, -1))
	addAll(IocTypeHashes, hashPattern.FindAllString(text, -1))
	addAll(IocTypeEmails, emailPattern.FindAllString(text, -1))

	urlSpans := urlPattern.FindAllStringIndex(text, -1)
	urls := make([]string, 0, len(urlSpans))
	for _, span := range urlSpans {
		urls = append(urls, strings.TrimRight(text[span[0]:span[1]], ".,;)"))
	}
	addAll(IocTypeURLs, urls)

	// Bare domains: skip anything inside a URL or email match, and skip
	// dotted quads already reported as IPs.
	covered := append(append([][]int{}, urlSpans...), emailPattern.FindAllStringIndex(text, -1)...)
	var domains []string
	for _, span := range domainPattern.FindAllStringIndex(text, -1) {
		if insideAny(span, covered) {
			continue
		}
		value := text[span[0]:span[1]]
		if ipPattern.MatchString(value) {
			continue
		}
		domains = append(domains, strings.ToLower(value))
	}
	addAll(IocTypeDomains, domains)

	return iocs
}

func insideAny(span []int, covered [][]int) bool {
	for _, c := range covered {
		if span[0] >= c[0] && span[1] <= c[1] {
			return true
		}
	}
	return false
}
