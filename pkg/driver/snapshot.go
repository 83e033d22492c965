package driver

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/session"
)

// Snapshot is an accessibility tree annotated with refs.
type Snapshot struct {
	Surface string
	URL     string
	Title   string
	Refs    []session.Ref
	// Document is the YAML rendering handed back to callers.
	Document string
}

// rootRoles are container roles that never receive a ref.
var rootRoles = map[string]bool{
	"document":    true,
	"WebArea":     true,
	"RootWebArea": true,
}

// ariaRoles are roles both engines resolve through a role selector. Other
// roles (StaticText, generic) fall back to text or attribute selectors.
var ariaRoles = map[string]bool{
	"alert": true, "article": true, "banner": true, "button": true, "cell": true,
	"checkbox": true, "columnheader": true, "combobox": true, "complementary": true,
	"contentinfo": true, "dialog": true, "form": true, "grid": true, "gridcell": true,
	"group": true, "heading": true, "img": true, "link": true, "list": true,
	"listbox": true, "listitem": true, "main": true, "menu": true, "menubar": true,
	"menuitem": true, "navigation": true, "option": true, "progressbar": true,
	"radio": true, "region": true, "row": true, "rowheader": true, "search": true,
	"searchbox": true, "separator": true, "slider": true, "spinbutton": true,
	"status": true, "switch": true, "tab": true, "table": true, "tablist": true,
	"tabpanel": true, "textbox": true, "toolbar": true, "tree": true, "treeitem": true,
}

type snapNode struct {
	Ref      string            `yaml:"ref"`
	Role     string            `yaml:"role"`
	Name     string            `yaml:"name,omitempty"`
	Value    string            `yaml:"value,omitempty"`
	Props    map[string]string `yaml:"props,omitempty"`
	Children []*snapNode       `yaml:"children,omitempty"`
}

type snapDocument struct {
	URL   string      `yaml:"url"`
	Title string      `yaml:"title"`
	Tree  []*snapNode `yaml:"tree"`
}

// refPass walks an accessibility tree assigning e1, e2, ... in document order.
type refPass struct {
	next int
	refs []session.Ref
	// seen counts earlier nodes per base selector so duplicates get nth.
	seen map[string]int
}

func (p *refPass) visit(n *engine.Node, level int) []*snapNode {
	if n == nil {
		return nil
	}
	if rootRoles[n.Role] {
		var out []*snapNode
		for _, c := range n.Children {
			out = append(out, p.visit(c, level)...)
		}
		return out
	}

	role := n.Role
	if role == "" {
		role = "generic"
	}
	p.next++
	ref := session.Ref{
		ID:       fmt.Sprintf("e%d", p.next),
		Role:     role,
		Name:     n.Name,
		Level:    level,
		Selector: p.selector(role, n.Name),
	}
	p.refs = append(p.refs, ref)

	node := &snapNode{Ref: ref.ID, Role: role, Name: n.Name, Value: n.Value, Props: n.Props}
	for _, c := range n.Children {
		node.Children = append(node.Children, p.visit(c, level+1)...)
	}
	return []*snapNode{node}
}

// selector returns the node's selector, qualified with its position among
// earlier nodes the same base selector matches. A bare role selector matches
// named nodes of that role too, so every node counts toward it.
func (p *refPass) selector(role, name string) string {
	base := selectorFor(role, name)
	if p.seen == nil {
		p.seen = make(map[string]int)
	}
	k := p.seen[base]
	p.seen[base]++
	if ariaRoles[role] && name != "" {
		p.seen["role="+role]++
	}
	if k == 0 {
		return base
	}
	return fmt.Sprintf("%s >> nth=%d", base, k)
}

// selectorFor derives an engine selector from role and exact name.
func selectorFor(role, name string) string {
	quoted := quoteSelectorValue(name)
	if ariaRoles[role] {
		if name == "" {
			return "role=" + role
		}
		return fmt.Sprintf(`role=%s[name=%ss]`, role, quoted)
	}
	if name != "" {
		return "text=" + quoted
	}
	return fmt.Sprintf(`[role="%s"]`, role)
}

func quoteSelectorValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

// buildSnapshot annotates root and renders it.
func buildSnapshot(root *engine.Node, title, url string) (*Snapshot, error) {
	var pass refPass
	tree := pass.visit(root, 0)

	doc, err := yaml.Marshal(snapDocument{URL: url, Title: title, Tree: tree})
	if err != nil {
		return nil, fmt.Errorf("failed to render snapshot: %w", err)
	}
	return &Snapshot{
		URL:      url,
		Title:    title,
		Refs:     pass.refs,
		Document: string(doc),
	}, nil
}
