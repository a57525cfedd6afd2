package saga

import (
	"encoding/json"
	"fmt"

	"github.com/fortressi/sellerhub/saga/dag"
)

// SagaDag is a Dag wrapped with start and end nodes, ready to execute.
type SagaDag struct {
	Graph     *dag.Graph
	SagaName  SagaName
	StartNode int64
	EndNode   int64
	Nodes     map[int64]*DagNode
}

// NewSagaDag creates a new SagaDag by wrapping the DAG with Start and End nodes.
func NewSagaDag(d *Dag, params json.RawMessage) (*SagaDag, error) {
	sagaDag := &SagaDag{
		SagaName: d.SagaName,
		Graph:    d.Graph,
		Nodes:    d.nodes,
	}

	startNode := sagaDag.Graph.NewNode()
	sagaDag.Graph.AddNode(startNode)
	sagaDag.Nodes[startNode.ID()] = &DagNode{Kind: KindStart, Params: params}
	sagaDag.StartNode = startNode.ID()

	endNode := sagaDag.Graph.NewNode()
	sagaDag.Graph.AddNode(endNode)
	sagaDag.Nodes[endNode.ID()] = &DagNode{Kind: KindEnd}
	sagaDag.EndNode = endNode.ID()

	for _, firstNode := range d.firstNodes {
		if err := sagaDag.Graph.Connect(startNode.ID(), firstNode); err != nil {
			return nil, fmt.Errorf("connect start node: %w", err)
		}
	}
	for _, lastNode := range d.lastNodes {
		if err := sagaDag.Graph.Connect(lastNode, endNode.ID()); err != nil {
			return nil, fmt.Errorf("connect end node: %w", err)
		}
	}

	return sagaDag, nil
}

// GetNode returns a node given its index.
func (s *SagaDag) GetNode(nodeID int64) (*DagNode, error) {
	node, exists := s.Nodes[nodeID]
	if !exists {
		return nil, fmt.Errorf("node not found: %d", nodeID)
	}
	return node, nil
}

// GetNodeIndex returns the index for a given node name.
func (s *SagaDag) GetNodeIndex(name NodeName) (int64, error) {
	for id, node := range s.Nodes {
		if node.IsAction() && node.Name == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("saga has no node named %q", name)
}

// DOT renders the saga graph in Graphviz format.
func (s *SagaDag) DOT() (string, error) {
	return s.Graph.ExportToDot(string(s.SagaName))
}
