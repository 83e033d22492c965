package driver

import (
	"strings"
	"testing"
)

func TestCleanHTML(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		maxLength int
		wantTitle string
		wantDesc  string
		wantHTML  []string
		wantNot   []string
		truncated bool
	}{
		{
			name: "scripts and styles are dropped",
			input: `<html>
				<head>
					<title>Checkout</title>
					<meta name="description" content="Pay for your order">
					<script>analytics.track('view');</script>
					<style>.cart { color: red; }</style>
				</head>
				<body>
					<h1 id="heading">Your cart</h1>
					<p class="summary">Two items.</p>
				</body>
			</html>`,
			wantTitle: "Checkout",
			wantDesc:  "Pay for your order",
			wantHTML:  []string{`<h1 id="heading">`, "Your cart", `<p class="summary">`, "Two items."},
			wantNot:   []string{"<script>", "analytics", "<style>", "color: red"},
		},
		{
			name: "landmarks survive",
			input: `<html><body>
				<header><nav><a href="/">Home</a></nav></header>
				<main><section id="results"><article><h2>Result</h2></article></section></main>
				<footer><p>Contact</p></footer>
			</body></html>`,
			wantHTML: []string{"<header>", "<nav>", "<main>", `<section id="results">`, "<article>", "<footer>"},
		},
		{
			name: "targeting attributes are kept and handlers removed",
			input: `<html><body>
				<form action="/login" method="post">
					<input type="email" name="email" id="email" placeholder="you@example.com" data-testid="email" onchange="validate()" style="width:100%">
					<button type="submit" class="primary" aria-label="Sign in">Go</button>
				</form>
			</body></html>`,
			wantHTML: []string{
				`<form action="/login" method="post">`,
				`type="email"`,
				`name="email"`,
				`placeholder="you@example.com"`,
				`data-testid="email"`,
				`aria-label="Sign in"`,
			},
			wantNot: []string{"onchange", "validate()", "style="},
		},
		{
			name: "embedded content is dropped",
			input: `<html><body>
				<div>Visible</div>
				<noscript>Enable JavaScript</noscript>
				<iframe src="https://ads.test"></iframe>
				<svg><path d="M0 0"/></svg>
				<!-- build 1234 -->
			</body></html>`,
			wantHTML: []string{"<div>", "Visible"},
			wantNot:  []string{"<noscript>", "Enable JavaScript", "<iframe>", "<svg>", "build 1234"},
		},
		{
			name: "output is truncated at the limit",
			input: `<html><body>
				<p>First paragraph with some content.</p>
				<p>Second paragraph with more content.</p>
				<p>Third paragraph that should be cut.</p>
			</body></html>`,
			maxLength: 100,
			wantHTML:  []string{"First paragraph"},
			wantNot:   []string{"Third paragraph"},
			truncated: true,
		},
		{
			name:     "void elements have no closing tag",
			input:    `<html><body><img src="logo.png" alt="Logo"><br><input type="text" name="q"><hr></body></html>`,
			wantHTML: []string{`<img src="logo.png" alt="Logo">`, "<br>", `<input type="text" name="q">`, "<hr>"},
			wantNot:  []string{"</img>", "</br>", "</input>", "</hr>"},
		},
		{
			name:     "attribute values are escaped",
			input:    `<html><body><a href="/search?q=a&amp;b" title="say &quot;hi&quot;">Search</a></body></html>`,
			wantHTML: []string{`href="/search?q=a&amp;b"`, `title="say &#34;hi&#34;"`},
		},
		{
			name:     "whitespace is collapsed",
			input:    "<html><body><p>  lots \n\n of \t space  </p></body></html>",
			wantHTML: []string{"<p>lots of space"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := CleanHTML(tt.input, tt.maxLength)
			if err != nil {
				t.Fatalf("CleanHTML() error = %v", err)
			}

			if result.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", result.Title, tt.wantTitle)
			}
			if result.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", result.Description, tt.wantDesc)
			}
			if result.Truncated != tt.truncated {
				t.Errorf("Truncated = %v, want %v", result.Truncated, tt.truncated)
			}

			for _, want := range tt.wantHTML {
				if !strings.Contains(result.HTML, want) {
					t.Errorf("HTML missing %q\nGot: %s", want, result.HTML)
				}
			}
			for _, notWant := range tt.wantNot {
				if strings.Contains(result.HTML, notWant) {
					t.Errorf("HTML contains %q\nGot: %s", notWant, result.HTML)
				}
			}
		})
	}
}

func TestKeepAttr(t *testing.T) {
	tests := []struct {
		tag  string
		attr string
		want bool
	}{
		{"div", "id", true},
		{"div", "class", true},
		{"div", "style", false},
		{"div", "onclick", false},
		{"div", "data-test", true},
		{"a", "href", true},
		{"a", "target", true},
		{"div", "href", false},
		{"img", "src", true},
		{"input", "placeholder", true},
		{"option", "selected", true},
		{"label", "for", true},
	}

	for _, tt := range tests {
		t.Run(tt.tag+"_"+tt.attr, func(t *testing.T) {
			if got := keepAttr(tt.tag, tt.attr); got != tt.want {
				t.Errorf("keepAttr(%q, %q) = %v, want %v", tt.tag, tt.attr, got, tt.want)
			}
		})
	}
}
