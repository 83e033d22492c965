package script

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/entrhq/pilot/pkg/session"
)

func TestPlaywright_Steps(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	actions := []session.Action{
		{Type: "navigate", Text: "https://example.com/login", Timestamp: start},
		{Type: "type", Selector: "#user", Text: "o'brien", Timestamp: start.Add(time.Second)},
		{Type: "key", Selector: "#user", Text: "Enter", Timestamp: start.Add(2 * time.Second)},
		{Type: "click", Selector: `text="Sign in"`, Timestamp: start.Add(10 * time.Second)},
		{Type: "select", Selector: "#country", Text: "nl,be", Timestamp: start.Add(11 * time.Second)},
		{Type: "drag", Selector: "#card", Text: "#done", Timestamp: start.Add(12 * time.Second)},
		{Type: "key", Text: "Escape", Timestamp: start.Add(13 * time.Second)},
		{Type: "back", Timestamp: start.Add(14 * time.Second)},
	}

	out := Playwright("login flow", actions)

	assert.True(t, strings.HasPrefix(out, "import { test, expect } from '@playwright/test';"))
	assert.Contains(t, out, "test('login flow', async ({ page }) => {")
	assert.Contains(t, out, "await page.goto('https://example.com/login');")
	assert.Contains(t, out, `await page.locator('#user').fill('o\'brien');`)
	assert.Contains(t, out, "await page.locator('#user').press('Enter');")
	assert.Contains(t, out, "// [8s pause]")
	assert.Contains(t, out, `await page.locator('text="Sign in"').click();`)
	assert.Contains(t, out, "await page.locator('#country').selectOption(['nl', 'be']);")
	assert.Contains(t, out, "await page.locator('#card').dragTo(page.locator('#done'));")
	assert.Contains(t, out, "await page.keyboard.press('Escape');")
	assert.Contains(t, out, "await page.goBack();")
	assert.True(t, strings.HasSuffix(out, "});\n"))
}

func TestPlaywright_Empty(t *testing.T) {
	out := Playwright("", nil)
	assert.Contains(t, out, "test('recorded session'")
	assert.Contains(t, out, "// No actions recorded")
}

func TestEscapeJS(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "it's", want: `it\'s`},
		{in: `back\slash`, want: `back\\slash`},
		{in: "two\nlines", want: `two\nlines`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeJS(tt.in))
	}
}
