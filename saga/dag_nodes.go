package saga

import (
	"encoding/json"
)

// NodeKind says what the executor does on reaching a node.
type NodeKind int

const (
	// KindAction runs an action from the registry.
	KindAction NodeKind = iota
	// KindStart and KindEnd bracket the graph and do nothing.
	KindStart
	KindEnd
)

var nodeKindNames = map[NodeKind]string{
	KindAction: "action",
	KindStart:  "start",
	KindEnd:    "end",
}

func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// DagNode is one vertex of a built saga graph.
type DagNode struct {
	Kind NodeKind
	// Name is empty for start and end nodes.
	Name   NodeName
	Action ActionName
	// Params carries the saga parameters on the start node.
	Params json.RawMessage

	label string
}

func newActionDagNode(name NodeName, label string, action ActionName) *DagNode {
	if label == "" {
		label = string(action)
	}
	return &DagNode{Kind: KindAction, Name: name, Action: action, label: label}
}

// IsAction reports whether reaching the node runs an action.
func (n *DagNode) IsAction() bool {
	return n.Kind == KindAction
}

// Label is the text shown for the node in DOT output.
func (n *DagNode) Label() string {
	switch n.Kind {
	case KindStart:
		return "(start)"
	case KindEnd:
		return "(end)"
	}
	return n.label
}
