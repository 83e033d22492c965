package pwengine

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/pilot/pkg/engine"
)

// ParseAriaSnapshot converts Playwright's YAML aria snapshot into a node tree
// rooted at a synthetic "document" node.
func ParseAriaSnapshot(doc string) (*engine.Node, error) {
	root := &engine.Node{Role: "document"}
	if strings.TrimSpace(doc) == "" {
		return root, nil
	}

	var items []any
	if err := yaml.Unmarshal([]byte(doc), &items); err != nil {
		return nil, fmt.Errorf("failed to parse aria snapshot: %w", err)
	}

	children, props, err := parseItems(items)
	if err != nil {
		return nil, err
	}
	root.Children = children
	root.Props = props
	return root, nil
}

func parseItems(items []any) ([]*engine.Node, map[string]string, error) {
	var nodes []*engine.Node
	var props map[string]string

	for _, item := range items {
		switch v := item.(type) {
		case string:
			nodes = append(nodes, parseHeader(v))
		case map[string]any:
			for key, val := range v {
				// "/url: ..." style entries are properties of the parent
				if strings.HasPrefix(key, "/") {
					if props == nil {
						props = make(map[string]string)
					}
					props[strings.TrimPrefix(key, "/")] = scalar(val)
					continue
				}
				n := parseHeader(key)
				switch body := val.(type) {
				case []any:
					children, childProps, err := parseItems(body)
					if err != nil {
						return nil, nil, err
					}
					n.Children = children
					for k, pv := range childProps {
						if n.Props == nil {
							n.Props = make(map[string]string)
						}
						n.Props[k] = pv
					}
				case nil:
				default:
					text := scalar(body)
					if n.Name == "" {
						n.Name = text
					} else {
						n.Value = text
					}
				}
				nodes = append(nodes, n)
			}
		default:
			return nil, nil, fmt.Errorf("unexpected aria snapshot entry %T", item)
		}
	}
	return nodes, props, nil
}

// parseHeader splits `role "name" [attr=value] [flag]`.
func parseHeader(s string) *engine.Node {
	s = strings.TrimSpace(s)
	n := &engine.Node{}

	end := strings.IndexAny(s, " \t")
	if end < 0 {
		n.Role = s
		return n
	}
	n.Role = s[:end]
	rest := strings.TrimSpace(s[end:])

	switch {
	case strings.HasPrefix(rest, `"`):
		if name, tail, ok := cutQuoted(rest); ok {
			n.Name = name
			rest = tail
		}
	case strings.HasPrefix(rest, "/"):
		// regex names keep their source form
		if i := strings.LastIndex(rest, "/"); i > 0 {
			n.Name = rest[:i+1]
			rest = strings.TrimSpace(rest[i+1:])
		}
	}

	for {
		rest = strings.TrimSpace(rest)
		if !strings.HasPrefix(rest, "[") {
			break
		}
		closeIdx := strings.Index(rest, "]")
		if closeIdx < 0 {
			break
		}
		attr := rest[1:closeIdx]
		rest = rest[closeIdx+1:]
		if n.Props == nil {
			n.Props = make(map[string]string)
		}
		if k, v, ok := strings.Cut(attr, "="); ok {
			n.Props[k] = v
		} else {
			n.Props[attr] = "true"
		}
	}
	return n
}

// cutQuoted reads a leading double-quoted string with JSON-style escapes.
func cutQuoted(s string) (string, string, bool) {
	escaped := false
	for i := 1; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '"':
			name, err := strconv.Unquote(s[:i+1])
			if err != nil {
				name = s[1:i]
			}
			return name, s[i+1:], true
		}
	}
	return "", s, false
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
