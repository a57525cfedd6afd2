package saga

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// NodeEvent represents an entry in the saga log.
type NodeEvent struct {
	SagaID   string    `json:"saga_id"`
	NodeID   int64     `json:"node_id"`
	NodeName NodeName  `json:"node_name"`
	Type     EventType `json:"type"`
	At       time.Time `json:"at"`
}

// String implements the fmt.Stringer interface for NodeEvent.
func (e NodeEvent) String() string {
	return fmt.Sprintf("N%03d %s %s", e.NodeID, e.NodeName, e.Type)
}

// EventType defines the types of events that can occur for a saga node.
type EventType int

const (
	EventStarted EventType = iota
	EventSucceeded
	EventFailed
	EventUndoStarted
	EventUndoFinished
	EventUndoFailed
)

var eventTypeNames = map[EventType]string{
	EventStarted:      "started",
	EventSucceeded:    "succeeded",
	EventFailed:       "failed",
	EventUndoStarted:  "undo_started",
	EventUndoFinished: "undo_finished",
	EventUndoFailed:   "undo_failed",
}

// String returns the string representation of the EventType.
func (s EventType) String() string {
	if name, ok := eventTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

func (s EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *EventType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	for t, name := range eventTypeNames {
		if name == str {
			*s = t
			return nil
		}
	}
	return fmt.Errorf("invalid event type: %s", str)
}

// NodeStatus is where a node stands according to the events recorded so far.
type NodeStatus int

const (
	NodeNeverStarted NodeStatus = iota
	NodeStarted
	NodeSucceeded
	NodeFailed
	NodeUndoStarted
	NodeUndoFinished
	NodeUndoFailed
)

// String returns the string representation of the NodeStatus.
func (s NodeStatus) String() string {
	switch s {
	case NodeNeverStarted:
		return "NeverStarted"
	case NodeStarted:
		return "Started"
	case NodeSucceeded:
		return "Succeeded"
	case NodeFailed:
		return "Failed"
	case NodeUndoStarted:
		return "UndoStarted"
	case NodeUndoFinished:
		return "UndoFinished"
	case NodeUndoFailed:
		return "UndoFailed"
	default:
		return fmt.Sprintf("Unknown NodeStatus: %d", int(s))
	}
}

// next returns the status after recording eventType. A failed undo may be
// started again, which is how a retained saga is rolled back a second time.
func (s NodeStatus) next(eventType EventType) (NodeStatus, error) {
	switch s {
	case NodeNeverStarted:
		if eventType == EventStarted {
			return NodeStarted, nil
		}
	case NodeStarted:
		switch eventType {
		case EventSucceeded:
			return NodeSucceeded, nil
		case EventFailed:
			return NodeFailed, nil
		}
	case NodeSucceeded, NodeUndoFailed:
		if eventType == EventUndoStarted {
			return NodeUndoStarted, nil
		}
	case NodeUndoStarted:
		switch eventType {
		case EventUndoFinished:
			return NodeUndoFinished, nil
		case EventUndoFailed:
			return NodeUndoFailed, nil
		}
	}

	return s, fmt.Errorf("illegal event type %s for current status %s", eventType, s)
}

// Log is the write log for one saga.
type Log struct {
	mu         sync.Mutex
	sagaID     string
	unwinding  bool
	events     []NodeEvent
	nodeStatus map[int64]NodeStatus
}

// NewLog creates a new, empty Log.
func NewLog(sagaID string) *Log {
	return &Log{
		sagaID:     sagaID,
		nodeStatus: make(map[int64]NodeStatus),
	}
}

// RecoverLog replays persisted events, in order, into a new Log.
func RecoverLog(sagaID string, events []NodeEvent) (*Log, error) {
	log := NewLog(sagaID)
	for _, event := range events {
		if event.SagaID != sagaID {
			return nil, fmt.Errorf(
				"event in log for different saga (%s) than requested (%s)",
				event.SagaID, sagaID,
			)
		}
		if err := log.Record(event); err != nil {
			return nil, fmt.Errorf("error recovering saga log: %w", err)
		}
	}
	return log, nil
}

// Record adds an event to the Log.
func (l *Log) Record(event NodeEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.nodeStatus[event.NodeID]
	next, err := current.next(event.Type)
	if err != nil {
		return fmt.Errorf("node %d (%s): %w", event.NodeID, event.NodeName, err)
	}

	switch next {
	case NodeFailed, NodeUndoStarted, NodeUndoFinished, NodeUndoFailed:
		l.unwinding = true
	}

	l.nodeStatus[event.NodeID] = next
	l.events = append(l.events, event)
	return nil
}

// Unwinding returns true once any node has failed or started undoing.
func (l *Log) Unwinding() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.unwinding
}

// Status returns the current status of a node.
func (l *Log) Status(nodeID int64) NodeStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.nodeStatus[nodeID]
}

// Events returns a copy of the recorded events.
func (l *Log) Events() []NodeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]NodeEvent, len(l.events))
	copy(out, l.events)
	return out
}

// String pretty-prints the log.
func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("SAGA LOG:\n")
	fmt.Fprintf(&sb, "saga id:   %s\n", l.sagaID)
	direction := "forward"
	if l.unwinding {
		direction = "unwinding"
	}
	fmt.Fprintf(&sb, "direction: %s\n", direction)
	fmt.Fprintf(&sb, "events (%d total):\n\n", len(l.events))
	for i, event := range l.events {
		fmt.Fprintf(&sb, "%03d %s\n", i+1, event.String())
	}
	return sb.String()
}
