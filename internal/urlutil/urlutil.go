// Package urlutil provides URL canonicalization and crawl scoping helpers.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Canonicalize standardizes a URL so two spellings of the same page compare
// equal. It lowercases the scheme and host, strips a leading "www.", removes
// default ports, drops the fragment, and trims the trailing slash except for
// the root path.
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimPrefix(u.Host, "www.")

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	if u.Path == "" {
		u.Path = "/"
	}
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// Host returns the canonical host of a URL, without port or "www." prefix.
func Host(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www."), nil
}

// SameDomain reports whether two URLs resolve to the same canonical host.
// Non-default ports are part of the host identity.
func SameDomain(a, b string) bool {
	ha, err := canonicalHost(a)
	if err != nil || ha == "" {
		return false
	}
	hb, err := canonicalHost(b)
	if err != nil || hb == "" {
		return false
	}
	return ha == hb
}

// canonicalHost lowercases the host, strips "www." and default ports, and
// keeps any non-default port.
func canonicalHost(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	switch strings.ToLower(u.Scheme) {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}
	return host, nil
}

// skipSegments lists path segments that mark a page as useless for contact
// discovery. Matching paths are never fetched regardless of budget.
var skipSegments = []string{
	"admin", "login", "logout", "signin", "sign-in", "signup", "sign-up",
	"register", "cart", "basket", "checkout", "account", "my-account",
	"wp-admin", "wp-login.php", "wp-json", "password", "auth",
}

var skipExtensions = []string{
	".pdf", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".ico",
	".css", ".js", ".zip", ".rar", ".mp3", ".mp4", ".avi", ".mov",
	".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
}

// ShouldSkipPath reports whether the path points at an admin/commerce/account
// area or a binary asset that the crawler must not fetch.
func ShouldSkipPath(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range skipExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	for _, seg := range strings.Split(strings.Trim(lower, "/"), "/") {
		for _, skip := range skipSegments {
			if seg == skip {
				return true
			}
		}
	}
	return false
}

// seedPaths are the paths most likely to carry contact details. Greek variants
// (transliterated and accented) are included because a large share of target
// sites are Greek businesses.
var seedPaths = []string{
	"/contact",
	"/contact-us",
	"/contacts",
	"/about",
	"/about-us",
	"/privacy",
	"/privacy-policy",
	"/impressum",
	"/epikoinonia",
	"/epikoinwnia",
	"/etaireia",
	"/etairia",
	"/επικοινωνία",
	"/σχετικά",
}

// SeedURLs returns the starting frontier for a crawl of baseURL: the site
// root, the original URL, and the likely contact/about/privacy paths,
// canonicalized and deduplicated. Order is preserved so the homepage is
// always fetched first.
func SeedURLs(baseURL string) ([]string, error) {
	root, err := Canonicalize(baseURL)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("parse canonical url: %w", err)
	}

	home := *u
	home.Path = "/"
	home.RawQuery = ""

	seen := make(map[string]struct{})
	seeds := make([]string, 0, len(seedPaths)+2)
	add := func(raw string) {
		canonical, err := Canonicalize(raw)
		if err != nil {
			return
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		seeds = append(seeds, canonical)
	}

	add(home.String())
	add(root)
	for _, p := range seedPaths {
		candidate := *u
		candidate.RawQuery = ""
		candidate.Path = p
		add(candidate.String())
	}
	return seeds, nil
}

// Resolve turns a possibly relative href found on page pageURL into an
// absolute canonical URL. Non-http(s) schemes yield an error.
func Resolve(pageURL, href string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", abs.Scheme)
	}
	return Canonicalize(abs.String())
}
