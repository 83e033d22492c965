package pwengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAriaSnapshot(t *testing.T) {
	doc := `
- banner:
  - heading "Welcome \"home\"" [level=1]
  - link "Docs":
    - /url: /docs
- main:
  - textbox "Email"
  - checkbox "Remember me" [checked]
  - button "Submit" [disabled]
  - paragraph: Some text
  - text: Hello
`
	root, err := ParseAriaSnapshot(doc)
	require.NoError(t, err)
	assert.Equal(t, "document", root.Role)
	require.Len(t, root.Children, 2)

	banner := root.Children[0]
	assert.Equal(t, "banner", banner.Role)
	require.Len(t, banner.Children, 2)

	heading := banner.Children[0]
	assert.Equal(t, "heading", heading.Role)
	assert.Equal(t, `Welcome "home"`, heading.Name)
	assert.Equal(t, "1", heading.Props["level"])

	link := banner.Children[1]
	assert.Equal(t, "link", link.Role)
	assert.Equal(t, "Docs", link.Name)
	assert.Equal(t, "/docs", link.Props["url"])
	assert.Empty(t, link.Children)

	main := root.Children[1]
	require.Len(t, main.Children, 5)
	assert.Equal(t, "textbox", main.Children[0].Role)
	assert.Equal(t, "Email", main.Children[0].Name)
	assert.Equal(t, "true", main.Children[1].Props["checked"])
	assert.Equal(t, "true", main.Children[2].Props["disabled"])
	assert.Equal(t, "paragraph", main.Children[3].Role)
	assert.Equal(t, "Some text", main.Children[3].Name)
	assert.Equal(t, "text", main.Children[4].Role)
	assert.Equal(t, "Hello", main.Children[4].Name)
}

func TestParseAriaSnapshot_Empty(t *testing.T) {
	root, err := ParseAriaSnapshot("  \n")
	require.NoError(t, err)
	assert.Equal(t, "document", root.Role)
	assert.Empty(t, root.Children)
}

func TestParseAriaSnapshot_Invalid(t *testing.T) {
	_, err := ParseAriaSnapshot("- [unclosed")
	assert.Error(t, err)
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		in       string
		role     string
		name     string
		props    map[string]string
	}{
		{in: "button", role: "button"},
		{in: `link "A link"`, role: "link", name: "A link"},
		{in: `heading "H" [level=2]`, role: "heading", name: "H", props: map[string]string{"level": "2"}},
		{in: `img /logo\d+/`, role: "img", name: `/logo\d+/`},
		{in: `option "One" [selected] [disabled]`, role: "option", name: "One", props: map[string]string{"selected": "true", "disabled": "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			n := parseHeader(tt.in)
			assert.Equal(t, tt.role, n.Role)
			assert.Equal(t, tt.name, n.Name)
			if tt.props != nil {
				assert.Equal(t, tt.props, n.Props)
			}
		})
	}
}
