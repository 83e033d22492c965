package rodengine

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/proto"

	"github.com/entrhq/pilot/pkg/engine"
)

func (p *page) AccessibilityTree(ctx context.Context) (*engine.Node, error) {
	res, err := proto.AccessibilityGetFullAXTree{}.Call(p.bound(ctx))
	if err != nil {
		return nil, mapError(fmt.Errorf("accessibility tree failed: %w", err))
	}
	return buildAXTree(res.Nodes), nil
}

// buildAXTree links CDP's flat node list into a tree. Ignored nodes are
// dropped and their children lifted to the nearest kept ancestor.
func buildAXTree(nodes []*proto.AccessibilityAXNode) *engine.Node {
	byID := make(map[proto.AccessibilityAXNodeID]*proto.AccessibilityAXNode, len(nodes))
	for _, n := range nodes {
		byID[n.NodeID] = n
	}

	var rootAX *proto.AccessibilityAXNode
	for _, n := range nodes {
		if n.ParentID == "" {
			rootAX = n
			break
		}
	}
	if rootAX == nil {
		return &engine.Node{Role: "RootWebArea"}
	}

	var convert func(n *proto.AccessibilityAXNode) []*engine.Node
	convert = func(n *proto.AccessibilityAXNode) []*engine.Node {
		var children []*engine.Node
		for _, id := range n.ChildIDs {
			child, ok := byID[id]
			if !ok {
				continue
			}
			children = append(children, convert(child)...)
		}
		if n.Ignored || axString(n.Role) == "none" || axString(n.Role) == "generic" && axString(n.Name) == "" {
			return children
		}
		out := &engine.Node{
			Role:     axString(n.Role),
			Name:     axString(n.Name),
			Value:    axString(n.Value),
			Children: children,
		}
		for _, prop := range n.Properties {
			if prop == nil || prop.Value == nil {
				continue
			}
			if out.Props == nil {
				out.Props = make(map[string]string)
			}
			out.Props[string(prop.Name)] = prop.Value.Value.String()
		}
		return []*engine.Node{out}
	}

	root := &engine.Node{
		Role: axString(rootAX.Role),
		Name: axString(rootAX.Name),
	}
	for _, id := range rootAX.ChildIDs {
		if child, ok := byID[id]; ok {
			root.Children = append(root.Children, convert(child)...)
		}
	}
	if root.Role == "" {
		root.Role = "RootWebArea"
	}
	return root
}

func axString(v *proto.AccessibilityAXValue) string {
	if v == nil || v.Value.Nil() {
		return ""
	}
	return v.Value.Str()
}
