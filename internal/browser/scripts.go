// internal/browser/scripts.go
package browser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// isXPathLocator reports whether a locator should be resolved with
// document.evaluate instead of document.querySelector. chromedp's own query
// actions accept both forms natively; this only matters for the raw
// JavaScript probes below.
func isXPathLocator(locator string) bool {
	return strings.HasPrefix(locator, "/") ||
		strings.HasPrefix(locator, "./") ||
		strings.HasPrefix(locator, "(")
}

// jsString renders s as a JavaScript string literal. HTML escaping is
// disabled so characters like ">" stay literal; the encoded value is
// identical either way.
func jsString(s string) string {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		// Encoding a plain string cannot fail.
		return `""`
	}
	// Encode appends a trailing newline.
	return strings.TrimSuffix(sb.String(), "\n")
}

// resolveExpr builds a JS expression that evaluates to the first element
// matching the locator, or null.
func resolveExpr(locator string) string {
	q := jsString(locator)
	if isXPathLocator(locator) {
		return fmt.Sprintf(
			"document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue",
			q,
		)
	}
	return fmt.Sprintf("document.querySelector(%s)", q)
}

// existsScript builds an expression returning true when the locator matches
// at least one element right now, without waiting.
func existsScript(locator string) string {
	return fmt.Sprintf(`(() => {
	try {
		return %s !== null;
	} catch (e) {
		return false;
	}
})()`, resolveExpr(locator))
}

// selectOptionScript builds an expression that selects the option with the
// given value and fires the input and change events frameworks listen for.
// It returns "ok", "noelement", or "nooption".
func selectOptionScript(locator, value string) string {
	return fmt.Sprintf(`(() => {
	let el = null;
	try {
		el = %s;
	} catch (e) {
		el = null;
	}
	if (!el || el.tagName !== 'SELECT') {
		return 'noelement';
	}
	const value = %s;
	const match = Array.from(el.options).some((opt) => opt.value === value);
	if (!match) {
		return 'nooption';
	}
	el.value = value;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return 'ok';
})()`, resolveExpr(locator), jsString(value))
}
