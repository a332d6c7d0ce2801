package monitor

import (
	"net/url"
	"regexp"
	"strings"
)

// Hosts never followed as links (social media, ads, analytics).
// Their sub-resource requests are still recorded.
var excludedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(facebook|fb)\.com`),
	regexp.MustCompile(`(?i)twitter\.com`),
	regexp.MustCompile(`(?i)instagram\.com`),
	regexp.MustCompile(`(?i)linkedin\.com`),
	regexp.MustCompile(`(?i)youtube\.com`),
	regexp.MustCompile(`(?i)google-analytics\.com`),
	regexp.MustCompile(`(?i)doubleclick\.net`),
	regexp.MustCompile(`(?i)^ads?\.`),
	regexp.MustCompile(`(?i)^analytics?\.`),
	regexp.MustCompile(`(?i)googletagmanager\.com`),
}

// RootDomain returns the last two labels of host
// Example: blog.example.com -> example.com
func RootDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "." + parts[len(parts)-1]
	}
	return host
}

// IsExcluded checks if a host matches any excluded pattern
func IsExcluded(host string) bool {
	for _, pattern := range excludedPatterns {
		if pattern.MatchString(host) {
			return true
		}
	}
	return false
}

// Resolve makes ref absolute against base. Only http and https results
// are accepted; fragments are dropped.
func Resolve(base, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", false
	}

	abs := baseURL.ResolveReference(refURL)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if abs.Hostname() == "" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

// hostOf returns the lower-cased hostname of an absolute URL
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// FilterLinks resolves links found on sourceURL and selects up to maxLinks
// cross-host, non-excluded URLs, one per target host
func FilterLinks(sourceURL string, links []string, maxLinks int) []string {
	sourceHost := hostOf(sourceURL)
	if sourceHost == "" {
		return nil
	}

	seen := make(map[string]bool)
	var filtered []string

	for _, link := range links {
		abs, ok := Resolve(sourceURL, link)
		if !ok {
			continue
		}
		host := hostOf(abs)

		// Skip same-host links (not cross-domain)
		if host == sourceHost {
			continue
		}
		if IsExcluded(host) {
			continue
		}
		if seen[host] {
			continue
		}

		seen[host] = true
		filtered = append(filtered, abs)

		if len(filtered) >= maxLinks {
			break
		}
	}

	return filtered
}
