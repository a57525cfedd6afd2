package saga

import (
	"fmt"

	"github.com/fortressi/sellerhub/saga/dag"
	"gonum.org/v1/gonum/graph/encoding"
)

// SagaName represents a human-readable name for a particular saga.
type SagaName string

// String returns the string representation of the SagaName.
func (s SagaName) String() string {
	return string(s)
}

// NodeName represents a unique name for a saga Node.
type NodeName string

// NodeIndex is the graph id of a node.
type NodeIndex int64

func (n NodeIndex) ToInt64() int64 {
	return int64(n)
}

func nodeIndexesToInt64(in []NodeIndex) []int64 {
	out := make([]int64, len(in))
	for i := range in {
		out[i] = in[i].ToInt64()
	}
	return out
}

// Dag represents a directed acyclic graph (DAG) of saga nodes before it is
// wrapped with start and end nodes.
type Dag struct {
	*dag.Graph
	SagaName   SagaName
	nodes      map[int64]*DagNode
	firstNodes []int64
	lastNodes  []int64
}

// NewDag creates a new empty Dag.
func NewDag(sagaName SagaName) *Dag {
	return &Dag{
		Graph:    dag.New(),
		SagaName: sagaName,
		nodes:    make(map[int64]*DagNode),
	}
}

// AddNode adds a node to the DAG.
func (d *Dag) AddNode(node *DagNode) (NodeIndex, error) {
	gonumNode := d.NewNode()

	if node.Name != "" {
		if err := gonumNode.SetAttribute(encoding.Attribute{Key: "nodeName", Value: string(node.Name)}); err != nil {
			return 0, fmt.Errorf("set node name attribute: %w", err)
		}
	}
	if err := gonumNode.SetAttribute(encoding.Attribute{Key: "label", Value: node.Label()}); err != nil {
		return 0, fmt.Errorf("set label attribute: %w", err)
	}

	d.Graph.AddNode(gonumNode)
	d.nodes[gonumNode.ID()] = node
	return NodeIndex(gonumNode.ID()), nil
}

// AddEdge adds a directed edge between two nodes in the DAG.
func (d *Dag) AddEdge(fromID, toID NodeIndex) error {
	return d.Connect(fromID.ToInt64(), toID.ToInt64())
}

// GetNode retrieves a node by its graph id.
func (d *Dag) GetNode(id int64) (*DagNode, error) {
	node, exists := d.nodes[id]
	if !exists {
		return nil, fmt.Errorf("node not found: %d", id)
	}
	return node, nil
}
