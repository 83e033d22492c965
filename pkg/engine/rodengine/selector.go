package rodengine

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-rod/rod"
)

// textCandidates are the elements searched for text="..." selectors.
const textCandidates = "a, button, [role], h1, h2, h3, h4, h5, h6, label, option, summary, li, td, th, p, span, div"

// roleElements lists the elements carrying an implicit ARIA role. Explicit
// [role] attributes are always searched as well.
var roleElements = map[string]string{
	"button":       `button, input[type="button"], input[type="submit"], input[type="reset"], summary`,
	"link":         `a[href], area[href]`,
	"heading":      `h1, h2, h3, h4, h5, h6`,
	"textbox":      `input:not([type]), input[type="text"], input[type="email"], input[type="tel"], input[type="url"], input[type="password"], textarea`,
	"searchbox":    `input[type="search"]`,
	"checkbox":     `input[type="checkbox"]`,
	"radio":        `input[type="radio"]`,
	"combobox":     `select:not([multiple])`,
	"listbox":      `select[multiple], datalist`,
	"option":       `option`,
	"img":          `img[alt]:not([alt=""])`,
	"list":         `ul, ol`,
	"listitem":     `li`,
	"navigation":   `nav`,
	"main":         `main`,
	"form":         `form`,
	"table":        `table`,
	"row":          `tr`,
	"cell":         `td`,
	"columnheader": `th`,
	"slider":       `input[type="range"]`,
	"spinbutton":   `input[type="number"]`,
	"progressbar":  `progress`,
	"dialog":       `dialog`,
	"article":      `article`,
	"separator":    `hr`,
}

// query is a parsed selector.
type query struct {
	css     string
	role    string
	name    string
	hasName bool
	text    string
	isText  bool
	nth     int
}

var (
	nthSuffix = regexp.MustCompile(` >> nth=(\d+)$`)
	roleForm  = regexp.MustCompile(`^role=([A-Za-z]+)(?:\[name="((?:[^"\\]|\\.)*)"s?\])?$`)
)

// parseSelector understands CSS, text="..." and role=R[name="..."s], each
// optionally followed by " >> nth=K".
func parseSelector(selector string) query {
	var q query
	if m := nthSuffix.FindStringSubmatch(selector); m != nil {
		q.nth, _ = strconv.Atoi(m[1])
		selector = strings.TrimSuffix(selector, m[0])
	}
	if m := roleForm.FindStringSubmatch(selector); m != nil {
		q.role = m[1]
		if strings.Contains(selector, "[name=") {
			q.name, q.hasName = unquote(m[2]), true
		}
		return q
	}
	if name, ok := textSelector(selector); ok {
		q.text, q.isText = name, true
		return q
	}
	q.css = selector
	return q
}

func unquote(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

func textSelector(selector string) (string, bool) {
	if !strings.HasPrefix(selector, "text=") {
		return "", false
	}
	name := strings.TrimPrefix(selector, "text=")
	if len(name) >= 2 && strings.HasPrefix(name, `"`) && strings.HasSuffix(name, `"`) {
		name = unquote(name[1 : len(name)-1])
	}
	return name, true
}

// candidates returns the CSS list searched for a role.
func candidates(role string) string {
	css := fmt.Sprintf(`[role~="%s"]`, role)
	if implicit, ok := roleElements[role]; ok {
		css += ", " + implicit
	}
	return css
}

// findJS returns the nth matching element or null. Names compare exactly
// after whitespace is collapsed. Text matches keep the innermost element.
const findJS = `(mode, css, role, name, hasName, nth) => {
	const norm = s => (s || '').replace(/\s+/g, ' ').trim();
	const accName = el => {
		const label = el.getAttribute('aria-label');
		if (label) return norm(label);
		const by = el.getAttribute('aria-labelledby');
		if (by) return norm(by.split(/\s+/).map(id => {
			const t = document.getElementById(id);
			return t ? t.textContent : '';
		}).join(' '));
		if (el.labels && el.labels.length) return norm(Array.from(el.labels).map(l => l.textContent).join(' '));
		for (const attr of ['alt', 'placeholder', 'title']) {
			const v = el.getAttribute(attr);
			if (v) return norm(v);
		}
		return norm(el.innerText !== undefined ? el.innerText : el.textContent);
	};
	const all = Array.from(document.querySelectorAll(css));
	let found;
	if (mode === 'css') {
		found = all;
	} else if (mode === 'text') {
		const hits = all.filter(el => norm(el.innerText) === name);
		found = hits.filter(el => !hits.some(other => other !== el && el.contains(other)));
	} else {
		found = all.filter(el => {
			const explicit = el.getAttribute('role');
			if (explicit && explicit.split(/\s+/)[0] !== role) return false;
			return !hasName || accName(el) === name;
		});
	}
	return found[nth] || null;
}`

// find resolves q on pg. With the page's default sleeper it retries until the
// element appears or the context ends.
func find(pg *rod.Page, q query) (*rod.Element, error) {
	if q.css != "" && q.nth == 0 {
		return pg.Element(q.css)
	}
	mode, css := "css", q.css
	switch {
	case q.isText:
		mode, css = "text", textCandidates
	case q.role != "":
		mode, css = "role", candidates(q.role)
	}
	return pg.ElementByJS(rod.Eval(findJS, mode, css, q.role, q.text+q.name, q.hasName, q.nth))
}

// has reports whether q matches now, without waiting.
func has(pg *rod.Page, q query) (bool, *rod.Element, error) {
	el, err := find(pg.Sleeper(rod.NotFoundSleeper), q)
	var notFound *rod.ElementNotFoundError
	if errors.As(err, &notFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, el, nil
}
