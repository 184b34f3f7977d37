// Implements the Queue, which holds experiments in author order until dispatch.

package experiment

import (
	"fmt"
	"strings"

	"github.com/cachesim/cachesim/sim/tree"
)

// Queue is a FIFO of experiments. Positions are assigned on Append and never
// reused, so an experiment's ID stays stable after earlier entries are popped.
// Not safe for concurrent use; the dispatcher is its only consumer.
type Queue struct {
	queue []*Experiment
	next  int
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Append snapshots t, stamps it with its position and content hash, and adds
// it to the back of the queue. A nil t is enqueued as an empty experiment
// and rejected by validation before dispatch.
func (q *Queue) Append(t *tree.Tree) *Experiment {
	e := New(t)
	e.id = ID{Position: q.next, Hash: e.tree.Hash()}
	q.next++
	q.queue = append(q.queue, e)
	return e
}

// PopFront removes and returns the experiment at the front of the queue.
// ok is false when the queue is empty.
func (q *Queue) PopFront() (e *Experiment, ok bool) {
	if len(q.queue) == 0 {
		return nil, false
	}
	e = q.queue[0]
	q.queue[0] = nil
	q.queue = q.queue[1:]
	return e, true
}

// Len returns the number of queued experiments.
func (q *Queue) Len() int {
	return len(q.queue)
}

// Items returns a snapshot of the queued experiments in FIFO order.
func (q *Queue) Items() []*Experiment {
	out := make([]*Experiment, len(q.queue))
	copy(out, q.queue)
	return out
}

func (q *Queue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, e := range q.queue {
		sb.WriteString(fmt.Sprint(e))
		if i < len(q.queue)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}
