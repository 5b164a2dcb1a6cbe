// internal/browser/snapshot.go
package browser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// Snapshot bounds keep compiler and healer prompts small even on sprawling
// pages.
const (
	maxCensusElements = 60
	maxTextPreview    = 800
	maxElementName    = 80
)

// explicitRoles are collected first; elements carrying an ARIA role describe
// themselves better than their tag does.
var explicitRoles = []string{"button", "link", "textbox", "combobox", "menuitem", "tab"}

// nativeQueries pick up plain HTML interactive elements that never got a
// role attribute.
var nativeQueries = []string{
	"button:not([role])",
	"a:not([role])",
	"input[type='text']:not([role]), input[type='email']:not([role]), input[type='password']:not([role])",
	"textarea:not([role])",
	"select:not([role])",
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// parseSnapshot builds the compact page observation from raw page state.
func parseSnapshot(url, title, pageHTML string) (*schemas.PageSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	return &schemas.PageSnapshot{
		URL:      url,
		Title:    title,
		Text:     truncateRunes(collapseWhitespace(doc.Find("body").Text()), maxTextPreview),
		Elements: elementCensus(doc),
	}, nil
}

// elementCensus walks the document for interactive elements, explicit ARIA
// roles first, then native tags without one. Hidden elements and cookie or
// consent chrome are excluded. The census stops at maxCensusElements.
func elementCensus(doc *goquery.Document) []schemas.ElementSummary {
	out := make([]schemas.ElementSummary, 0, maxCensusElements)
	seen := make(map[*html.Node]bool)

	add := func(s *goquery.Selection, role string, native bool) bool {
		node := s.Get(0)
		if !seen[node] && !isHiddenElement(s) && !isConsentChrome(s) {
			seen[node] = true
			out = append(out, schemas.ElementSummary{
				Role:    role,
				Name:    elementName(s, native),
				Locator: locatorHint(s),
			})
		}
		return len(out) < maxCensusElements
	}

	for _, role := range explicitRoles {
		doc.Find(fmt.Sprintf("[role=%q]", role)).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			return add(s, role, false)
		})
		if len(out) >= maxCensusElements {
			return out
		}
	}

	for _, query := range nativeQueries {
		doc.Find(query).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			return add(s, nativeRole(goquery.NodeName(s)), true)
		})
		if len(out) >= maxCensusElements {
			return out
		}
	}

	return out
}

// nativeRole maps a plain tag onto the census role vocabulary.
func nativeRole(tag string) string {
	switch tag {
	case "a":
		return "link"
	case "input", "textarea":
		return "textbox"
	case "select":
		return "combobox"
	default:
		return tag
	}
}

// elementName derives the human-facing name. Native form fields may carry it
// in a placeholder; role'd elements never consult one.
func elementName(s *goquery.Selection, native bool) string {
	name := strings.TrimSpace(s.AttrOr("aria-label", ""))
	if name == "" && native {
		name = strings.TrimSpace(s.AttrOr("placeholder", ""))
	}
	if name == "" {
		name = collapseWhitespace(s.Text())
	}
	if name == "" {
		name = strings.TrimSpace(s.AttrOr("value", ""))
	}
	return truncateRunes(name, maxElementName)
}

// locatorHint picks the most stable selector available: id, then test id,
// then aria-label, then the bare tag.
func locatorHint(s *goquery.Selection) string {
	if id := s.AttrOr("id", ""); id != "" {
		return "#" + id
	}
	if tid := s.AttrOr("data-testid", ""); tid != "" {
		return fmt.Sprintf("[data-testid='%s']", tid)
	}
	tag := goquery.NodeName(s)
	if aria := s.AttrOr("aria-label", ""); aria != "" {
		return fmt.Sprintf("%s[aria-label='%s']", tag, aria)
	}
	return tag
}

// isHiddenElement approximates the live-layout zero-rect check with the
// attributes that force an element out of rendering. Ancestors count: a
// child of display:none has no box either.
func isHiddenElement(s *goquery.Selection) bool {
	if goquery.NodeName(s) == "input" && strings.EqualFold(s.AttrOr("type", ""), "hidden") {
		return true
	}
	for node := s; node.Length() > 0; node = node.Parent() {
		if _, hidden := node.Attr("hidden"); hidden {
			return true
		}
		if strings.EqualFold(node.AttrOr("aria-hidden", ""), "true") {
			return true
		}
		style := strings.ReplaceAll(strings.ToLower(node.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

// consentContainerClasses flag ancestors that wrap cookie or privacy
// banners.
var consentContainerClasses = map[string]bool{
	"cookie-consent":  true,
	"cookie-banner":   true,
	"cookie-notice":   true,
	"privacy-consent": true,
	"privacy-banner":  true,
	"privacy-notice":  true,
}

// isConsentChrome filters cookie and privacy consent widgets out of the
// census. They dominate element counts on public pages and are never what a
// mission targets.
func isConsentChrome(s *goquery.Selection) bool {
	id := strings.ToLower(s.AttrOr("id", ""))
	class := strings.ToLower(s.AttrOr("class", ""))
	label := strings.ToLower(s.AttrOr("aria-label", ""))
	for _, marker := range []string{"cookie", "consent", "privacy"} {
		if strings.Contains(id, marker) || strings.Contains(class, marker) || strings.Contains(label, marker) {
			return true
		}
	}
	if strings.Contains(id, "onetrust") {
		return true
	}

	for node := s.Parent(); node.Length() > 0; node = node.Parent() {
		ancestorID := strings.ToLower(node.AttrOr("id", ""))
		for _, marker := range []string{"cookie", "consent", "privacy", "onetrust"} {
			if strings.Contains(ancestorID, marker) {
				return true
			}
		}
		for _, cls := range strings.Fields(node.AttrOr("class", "")) {
			if consentContainerClasses[strings.ToLower(cls)] {
				return true
			}
		}
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// truncateRunes cuts at a rune boundary so multi-byte text never ends up
// split mid-character.
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
