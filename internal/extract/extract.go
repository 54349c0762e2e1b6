// Package extract pulls contact information out of fetched HTML pages.
//
// Extraction is heuristic: emails and phones are matched in visible text and
// in mailto:/tel: attributes, social profiles are recognized by href host.
// Every candidate keeps the URL of the page it was found on; duplicate values
// found on different pages are deliberately preserved, downstream export
// logic decides about dedup.
package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/leadharvest/leadharvest/internal/urlutil"
)

// Candidate is a single extracted value with provenance.
type Candidate struct {
	Value     string `json:"value"`
	SourceURL string `json:"source_url"`
	Context   string `json:"context,omitempty"`
}

// Link is an anchor discovered on the page, before any crawl filtering.
type Link struct {
	URL  string
	Text string
}

// Extraction is everything pulled from one page.
type Extraction struct {
	Emails        []Candidate
	Phones        []Candidate
	Social        map[string]string
	Links         []Link
	IsContactPage bool
}

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s\-().]{6,18}\d`)
)

// Asset filenames sometimes look like emails (logo@2x.png).
var bogusEmailSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}

var socialHosts = map[string]string{
	"facebook.com":  "facebook",
	"fb.com":        "facebook",
	"instagram.com": "instagram",
	"linkedin.com":  "linkedin",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"youtube.com":   "youtube",
	"youtu.be":      "youtube",
}

var contactKeywords = []string{
	"contact", "contact-us", "get in touch", "reach us",
	"epikoinonia", "epikoinwnia",
	"επικοινωνία", "επικοινωνια",
}

// Page parses the HTML of pageURL and returns all contact candidates, social
// links, outbound anchors, and the contact-page classification.
func Page(pageURL string, body []byte) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return Extraction{}, err
	}

	out := Extraction{Social: make(map[string]string)}

	out.Links = collectLinks(doc)
	collectHrefContacts(doc, pageURL, &out)

	doc.Find("script, style, noscript").Remove()
	text := doc.Text()
	collectTextContacts(text, pageURL, &out)

	out.IsContactPage = classifyContactPage(pageURL, out.Links)
	return out, nil
}

func collectLinks(doc *goquery.Document) []Link {
	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		links = append(links, Link{URL: href, Text: strings.TrimSpace(s.Text())})
	})
	return links
}

func collectHrefContacts(doc *goquery.Document, pageURL string, out *Extraction) {
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		switch {
		case strings.HasPrefix(strings.ToLower(href), "mailto:"):
			addr := strings.TrimPrefix(href, "mailto:")
			addr = strings.TrimPrefix(addr, "Mailto:")
			if i := strings.IndexByte(addr, '?'); i >= 0 {
				addr = addr[:i]
			}
			if email := normalizeEmail(addr); email != "" {
				appendEmail(out, Candidate{Value: email, SourceURL: pageURL, Context: "mailto"})
			}
		case strings.HasPrefix(strings.ToLower(href), "tel:"):
			if phone := normalizePhone(href[len("tel:"):]); phone != "" {
				appendPhone(out, Candidate{Value: phone, SourceURL: pageURL, Context: "tel"})
			}
		default:
			if platform, profile := matchSocial(href); platform != "" {
				if _, exists := out.Social[platform]; !exists {
					out.Social[platform] = profile
				}
			}
		}
	})
}

func collectTextContacts(text, pageURL string, out *Extraction) {
	for _, match := range emailRe.FindAllString(text, -1) {
		if email := normalizeEmail(match); email != "" {
			appendEmail(out, Candidate{Value: email, SourceURL: pageURL})
		}
	}
	for _, match := range phoneRe.FindAllString(text, -1) {
		if phone := normalizePhone(match); phone != "" {
			appendPhone(out, Candidate{Value: phone, SourceURL: pageURL})
		}
	}
}

// appendEmail keeps one entry per (value, source) pair. The same value from a
// different page stays, provenance matters more than dedup here.
func appendEmail(out *Extraction, c Candidate) {
	for _, existing := range out.Emails {
		if existing.Value == c.Value && existing.SourceURL == c.SourceURL {
			return
		}
	}
	out.Emails = append(out.Emails, c)
}

func appendPhone(out *Extraction, c Candidate) {
	for _, existing := range out.Phones {
		if existing.Value == c.Value && existing.SourceURL == c.SourceURL {
			return
		}
	}
	out.Phones = append(out.Phones, c)
}

func normalizeEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	if !emailRe.MatchString(email) {
		return ""
	}
	for _, suffix := range bogusEmailSuffixes {
		if strings.HasSuffix(email, suffix) {
			return ""
		}
	}
	return email
}

// normalizePhone strips formatting characters and keeps values with a
// plausible digit count. A leading + is preserved.
func normalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	phone := b.String()
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 8 || len(digits) > 15 {
		return ""
	}
	return phone
}

func matchSocial(href string) (platform, profile string) {
	host, err := urlutil.Host(href)
	if err != nil || host == "" {
		return "", ""
	}
	for socialHost, name := range socialHosts {
		if host == socialHost || strings.HasSuffix(host, "."+socialHost) {
			return name, href
		}
	}
	return "", ""
}

func classifyContactPage(pageURL string, links []Link) bool {
	lower := strings.ToLower(pageURL)
	for _, kw := range contactKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	// A page whose anchors point at themselves with contact wording does not
	// make it a contact page; only the page's own identity counts for
	// contactPages. Anchor text is still useful when the URL is opaque
	// (e.g. /page?id=12).
	for _, l := range links {
		text := strings.ToLower(l.Text)
		for _, kw := range contactKeywords {
			if text == kw && sameURL(pageURL, l.URL) {
				return true
			}
		}
	}
	return false
}

func sameURL(pageURL, href string) bool {
	resolved, err := urlutil.Resolve(pageURL, href)
	if err != nil {
		return false
	}
	canonical, err := urlutil.Canonicalize(pageURL)
	if err != nil {
		return false
	}
	return resolved == canonical
}
