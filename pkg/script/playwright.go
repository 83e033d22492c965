// Package script turns a session's recorded actions into a replayable
// Playwright test.
package script

import (
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/pilot/pkg/session"
)

// DefaultTestName is used when no name is supplied.
const DefaultTestName = "recorded session"

// pauseThreshold is the gap between actions worth noting in the script.
const pauseThreshold = 2 * time.Second

// Playwright renders actions as a @playwright/test TypeScript test.
func Playwright(testName string, actions []session.Action) string {
	if testName == "" {
		testName = DefaultTestName
	}

	var b strings.Builder
	b.WriteString("import { test, expect } from '@playwright/test';\n\n")
	fmt.Fprintf(&b, "test('%s', async ({ page }) => {\n", escapeJS(testName))

	if len(actions) == 0 {
		b.WriteString("  // No actions recorded\n")
	}

	var prev time.Time
	for _, a := range actions {
		if !prev.IsZero() && a.Timestamp.Sub(prev) > pauseThreshold {
			fmt.Fprintf(&b, "  // [%ds pause]\n", int(a.Timestamp.Sub(prev).Seconds()))
		}
		prev = a.Timestamp

		if line := step(a); line != "" {
			b.WriteString("  " + line + "\n")
		}
	}

	b.WriteString("});\n")
	return b.String()
}

// step converts one action to a line of test code.
func step(a session.Action) string {
	switch a.Type {
	case "navigate":
		return fmt.Sprintf("await page.goto('%s');", escapeJS(a.Text))
	case "click":
		return locator(a.Selector) + ".click();"
	case "type":
		return fmt.Sprintf("%s.fill('%s');", locator(a.Selector), escapeJS(a.Text))
	case "hover":
		return locator(a.Selector) + ".hover();"
	case "drag":
		return fmt.Sprintf("%s.dragTo(page.locator('%s'));", locator(a.Selector), escapeJS(a.Text))
	case "key":
		if a.Selector == "" {
			return fmt.Sprintf("await page.keyboard.press('%s');", escapeJS(a.Text))
		}
		return fmt.Sprintf("%s.press('%s');", locator(a.Selector), escapeJS(a.Text))
	case "select":
		return fmt.Sprintf("%s.selectOption(%s);", locator(a.Selector), stringArray(a.Text))
	case "upload":
		return fmt.Sprintf("%s.setInputFiles(%s);", locator(a.Selector), stringArray(a.Text))
	case "back":
		return "await page.goBack();"
	case "forward":
		return "await page.goForward();"
	case "refresh":
		return "await page.reload();"
	}
	return fmt.Sprintf("// unsupported action: %s", a.Type)
}

func locator(selector string) string {
	return fmt.Sprintf("await page.locator('%s')", escapeJS(selector))
}

// stringArray renders a comma separated list as a JS array literal.
func stringArray(list string) string {
	if list == "" {
		return "[]"
	}
	parts := strings.Split(list, ",")
	for i, p := range parts {
		parts[i] = "'" + escapeJS(p) + "'"
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// escapeJS escapes a string for a single-quoted JavaScript literal.
func escapeJS(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	return s
}
