package saga

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(nodeID int64, eventType EventType) NodeEvent {
	return NodeEvent{SagaID: "s1", NodeID: nodeID, NodeName: "n", Type: eventType, At: time.Now()}
}

func TestLogTransitions(t *testing.T) {
	log := NewLog("s1")

	require.NoError(t, log.Record(event(1, EventStarted)))
	require.NoError(t, log.Record(event(1, EventSucceeded)))
	assert.Equal(t, NodeSucceeded, log.Status(1))
	assert.False(t, log.Unwinding())

	require.NoError(t, log.Record(event(1, EventUndoStarted)))
	require.NoError(t, log.Record(event(1, EventUndoFailed)))
	assert.True(t, log.Unwinding())

	// A failed undo can be attempted again.
	require.NoError(t, log.Record(event(1, EventUndoStarted)))
	require.NoError(t, log.Record(event(1, EventUndoFinished)))
	assert.Equal(t, NodeUndoFinished, log.Status(1))

	assert.Len(t, log.Events(), 6)
	assert.Contains(t, log.String(), "unwinding")
}

func TestLogRejectsIllegalTransitions(t *testing.T) {
	log := NewLog("s1")

	assert.Error(t, log.Record(event(1, EventSucceeded)))
	require.NoError(t, log.Record(event(1, EventStarted)))
	require.NoError(t, log.Record(event(1, EventFailed)))
	assert.Error(t, log.Record(event(1, EventUndoStarted)))
	assert.Equal(t, NodeFailed, log.Status(1))
}

func TestRecoverLog(t *testing.T) {
	events := []NodeEvent{event(1, EventStarted), event(1, EventSucceeded)}

	log, err := RecoverLog("s1", events)
	require.NoError(t, err)
	assert.Equal(t, NodeSucceeded, log.Status(1))

	_, err = RecoverLog("other", events)
	assert.ErrorContains(t, err, "different saga")
}

func TestEventTypeJSON(t *testing.T) {
	data, err := json.Marshal(event(3, EventUndoFinished))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"undo_finished"`)

	var decoded NodeEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, EventUndoFinished, decoded.Type)

	var bad EventType
	assert.Error(t, json.Unmarshal([]byte(`"exploded"`), &bad))
}
