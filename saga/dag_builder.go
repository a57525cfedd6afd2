package saga

import (
	"errors"
	"fmt"

	"github.com/tidwall/btree"
)

// DagBuilder builds a DAG that can be executed as a saga.
type DagBuilder[T any, S SagaType[T]] struct {
	sagaName SagaName
	dag      *Dag

	// the initial set of nodes (root nodes), if any have been added
	firstAdded []NodeIndex

	// the most-recently-added set of nodes (current leaf nodes)
	//
	// Append and AppendParallel add new nodes that depend on every node in
	// lastAdded, then replace lastAdded with the new nodes.
	lastAdded []NodeIndex

	nodeNames *btree.Set[NodeName]
	registry  *ActionRegistry[T, S]
}

// NewDagBuilder creates a new DagBuilder. Actions appended to the builder are
// registered in registry if they are not there yet.
func NewDagBuilder[T any, S SagaType[T]](sagaName SagaName, registry *ActionRegistry[T, S]) *DagBuilder[T, S] {
	return &DagBuilder[T, S]{
		sagaName:  sagaName,
		dag:       NewDag(sagaName),
		lastAdded: []NodeIndex{},
		nodeNames: &btree.Set[NodeName]{},
		registry:  registry,
	}
}

// Append adds a single node sequentially to the DAG.
func (b *DagBuilder[T, S]) Append(node Node) error {
	return b.appendParallelSlice([]Node{node})
}

// AppendParallel adds nodes that depend on the previous stage but not on
// each other.
func (b *DagBuilder[T, S]) AppendParallel(nodes ...Node) error {
	return b.appendParallelSlice(nodes)
}

func (b *DagBuilder[T, S]) appendParallelSlice(userNodes []Node) error {
	// An empty stage would split the DAG into two disconnected components.
	if len(userNodes) == 0 {
		return fmt.Errorf("empty stage")
	}

	newNodes := make([]NodeIndex, 0, len(userNodes))
	for _, userNode := range userNodes {
		if b.nodeNames.Contains(userNode.nodeName()) {
			return fmt.Errorf("node with name '%s' already exists", userNode.nodeName())
		}
		b.nodeNames.Insert(userNode.nodeName())

		switch n := userNode.(type) {
		case *ActionNode[T, S]:
			if n.Action == nil {
				return fmt.Errorf("node '%s' has no action", n.NodeName)
			}
			actionName := n.Action.Name()
			if _, err := b.registry.Get(actionName); err != nil {
				if regErr := b.registry.Register(n.Action); regErr != nil {
					return fmt.Errorf("failed to register action %s: %w", actionName, regErr)
				}
			}

			id, err := b.addNode(newActionDagNode(n.NodeName, n.Label, actionName))
			if err != nil {
				return err
			}

			newNodes = append(newNodes, id)
		default:
			return fmt.Errorf("node with unrecognised type: %T", n)
		}
	}

	if len(b.firstAdded) == 0 {
		b.firstAdded = newNodes
	}

	b.lastAdded = newNodes

	return nil
}

func (b *DagBuilder[T, S]) addNode(n *DagNode) (NodeIndex, error) {
	id, err := b.dag.AddNode(n)
	if err != nil {
		return 0, err
	}

	// Every node of the previous stage is an ancestor of the new node.
	for _, node := range b.lastAdded {
		if err := b.dag.AddEdge(node, id); err != nil {
			return 0, fmt.Errorf("dependsOnLast: %w", err)
		}
	}

	return id, nil
}

// Build finalizes the DAG construction and returns the DAG.
func (b *DagBuilder[T, S]) Build() (*Dag, error) {
	if len(b.firstAdded) == 0 {
		return nil, fmt.Errorf("DAG has no root nodes")
	}
	if len(b.lastAdded) != 1 {
		return nil, errors.New("DAG must end with exactly one leaf node")
	}

	return &Dag{
		SagaName:   b.sagaName,
		Graph:      b.dag.Graph,
		nodes:      b.dag.nodes,
		firstNodes: nodeIndexesToInt64(b.firstAdded),
		lastNodes:  nodeIndexesToInt64(b.lastAdded),
	}, nil
}
