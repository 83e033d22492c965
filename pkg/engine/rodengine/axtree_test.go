package rodengine

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ysmood/gson"
)

func axValue(s string) *proto.AccessibilityAXValue {
	return &proto.AccessibilityAXValue{Type: proto.AccessibilityAXValueTypeString, Value: gson.New(s)}
}

func TestBuildAXTree(t *testing.T) {
	nodes := []*proto.AccessibilityAXNode{
		{NodeID: "1", Role: axValue("RootWebArea"), Name: axValue("App"), ChildIDs: []proto.AccessibilityAXNodeID{"2", "5"}},
		{NodeID: "2", ParentID: "1", Ignored: true, ChildIDs: []proto.AccessibilityAXNodeID{"3", "4"}},
		{NodeID: "3", ParentID: "2", Role: axValue("button"), Name: axValue("Save")},
		{NodeID: "4", ParentID: "2", Role: axValue("generic"), ChildIDs: []proto.AccessibilityAXNodeID{"6"}},
		{NodeID: "6", ParentID: "4", Role: axValue("textbox"), Name: axValue("Search")},
		{NodeID: "5", ParentID: "1", Role: axValue("heading"), Name: axValue("Title")},
	}

	root := buildAXTree(nodes)
	assert.Equal(t, "RootWebArea", root.Role)
	assert.Equal(t, "App", root.Name)
	require.Len(t, root.Children, 3)
	assert.Equal(t, "button", root.Children[0].Role)
	assert.Equal(t, "Save", root.Children[0].Name)
	assert.Equal(t, "textbox", root.Children[1].Role)
	assert.Equal(t, "heading", root.Children[2].Role)
}

func TestBuildAXTree_Empty(t *testing.T) {
	root := buildAXTree(nil)
	assert.Equal(t, "RootWebArea", root.Role)
	assert.Empty(t, root.Children)
}

func TestParseKeys(t *testing.T) {
	mods, last, err := parseKeys("Control+Shift+a")
	require.NoError(t, err)
	assert.Len(t, mods, 2)
	assert.Equal(t, 'a', rune(last))

	_, last, err = parseKeys("Enter")
	require.NoError(t, err)
	assert.Equal(t, namedKeys["enter"], last)

	_, _, err = parseKeys("NotAKey")
	assert.Error(t, err)
}

