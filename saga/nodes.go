package saga

// Node is something a DagBuilder can append. The only user-facing kind is
// ActionNode, which runs an Action and exposes its output to later nodes
// under NodeName (see ActionContext.Lookup).
type Node interface {
	nodeName() NodeName
	isValidNodeKind()
}

type ActionNode[T any, S SagaType[T]] struct {
	NodeName NodeName
	Action   Action[T, S]
	Label    string
}

func (a *ActionNode[T, S]) isValidNodeKind() {}
func (a *ActionNode[T, S]) nodeName() NodeName {
	return a.NodeName
}

// NewActionNode is shorthand for an ActionNode literal.
func NewActionNode[T any, S SagaType[T]](name NodeName, label string, action Action[T, S]) *ActionNode[T, S] {
	return &ActionNode[T, S]{NodeName: name, Label: label, Action: action}
}
