package np

import (
	"sync"

	"github.com/yabridge-go/bridge/internal/bridge/wire"
)

// midiQueue buffers MIDI events the plugin sent to the host via
// audioMasterProcessEvents (arriving on host_callback) until the end of
// the current audio block, when Bridge.ProcessAudio drains them through
// the real host in one batch. Deferring the delivery keeps an
// audioMaster call that arrives mid-block from blocking the audio
// thread on a round trip through WH and back; bounding it to one block
// is the same latency trade yabridge's own MIDI queue makes.
type midiQueue struct {
	mu       sync.Mutex
	capacity int
	events   []wire.MIDIEvent
	dropped  uint64
}

func newMIDIQueue(capacity int) *midiQueue {
	return &midiQueue{capacity: capacity, events: make([]wire.MIDIEvent, 0, capacity)}
}

// Push appends evt, reporting false if the queue was already at
// capacity and the event was dropped instead.
func (q *midiQueue) Push(evt wire.MIDIEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) >= q.capacity {
		q.dropped++
		return false
	}
	q.events = append(q.events, evt)
	return true
}

// PushBatch pushes every event in batch, returning how many were
// accepted and how many were dropped for having hit capacity.
func (q *midiQueue) PushBatch(batch wire.MIDIBatch) (accepted, droppedNow int) {
	for _, evt := range batch.Events {
		if q.Push(evt) {
			accepted++
		} else {
			droppedNow++
		}
	}
	return accepted, droppedNow
}

// Drain removes and returns every currently queued event.
func (q *midiQueue) Drain() wire.MIDIBatch {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return wire.MIDIBatch{}
	}
	events := q.events
	q.events = make([]wire.MIDIEvent, 0, q.capacity)
	return wire.MIDIBatch{Events: events}
}

// Depth returns the number of events currently buffered.
func (q *midiQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Dropped returns the cumulative number of events dropped since
// construction.
func (q *midiQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
