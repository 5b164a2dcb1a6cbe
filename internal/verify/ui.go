package verify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// checkUI confirms the expected values are visible in the rendered page
// text. It reads the session as the user left it: the executor's final page
// is the one a human would eyeball.
func (v *Verifier) checkUI(ctx context.Context, m *schemas.Mission, session schemas.BrowserSession) schemas.LegResult {
	if !m.Scope.UIEnabled() {
		return skippedLeg("ui leg disabled by test_scope")
	}
	want := uiExpectations(m.Verification)
	if len(want) == 0 {
		return skippedLeg("no ui verification points configured")
	}
	if session == nil {
		return failedLeg("ui leg requested but no browser session is available", nil)
	}

	pageText, err := session.Text(ctx, "")
	if err != nil {
		return failedLeg(
			fmt.Sprintf("failed to read page text: %v", err),
			nil,
		)
	}

	var missing []string
	for _, text := range want {
		if !strings.Contains(pageText, text) {
			missing = append(missing, text)
		}
	}
	if len(missing) > 0 {
		return failedLeg(
			"expected text not visible on the page",
			map[string]interface{}{
				"missing":    missing,
				"page_chars": len(pageText),
			},
		)
	}

	return passedLeg(map[string]interface{}{"visible": want})
}

// uiExpectations picks what the UI leg looks for: an explicit ui_text
// override, otherwise the string forms of the scalar expected values.
// Structured values have no canonical on-screen rendering and are left to
// the API and database legs.
func uiExpectations(vp schemas.VerificationPoints) []string {
	if vp.UIText != "" {
		return []string{vp.UIText}
	}
	var out []string
	for _, val := range vp.ExpectedValues {
		switch val.(type) {
		case map[string]interface{}, []interface{}, nil:
			continue
		}
		if s := stringForm(val); s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
