package gateways

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
)

// walkSlop is how many extra commits are popped once only hidden commits
// remain queued, to tolerate committer clock skew
const walkSlop = 5

// CommitHeader is the part of a commit the revision walk needs
type CommitHeader struct {
	Parents       []entities.ObjectID
	CommitterTime time.Time
}

// CommitHeaderLoader loads a commit header. found is false when the object
// is not in the object database.
type CommitHeaderLoader func(ctx context.Context, id entities.ObjectID) (header CommitHeader, found bool, err error)

// RevisionWalk lists the commits reachable from a set of tips but not from a
// set of hidden commits, newest first by committer time
type RevisionWalk struct {
	load   CommitHeaderLoader
	logger interfaces.Logger
}

// NewRevisionWalk creates a walk over the given loader
func NewRevisionWalk(load CommitHeaderLoader, logger interfaces.Logger) *RevisionWalk {
	return &RevisionWalk{load: load, logger: logger}
}

type walkNode struct {
	id            entities.ObjectID
	header        CommitHeader
	seq           int
	uninteresting bool
	queued        bool
	index         int
}

type walk struct {
	*RevisionWalk
	nodes             map[entities.ObjectID]*walkNode
	queue             walkQueue
	seq               int
	interestingQueued int
}

// Walk returns the ids reachable from include and not from hide, in
// discovery order. Zero ids are ignored. Hidden ids that are not in the
// object database are skipped; a missing include is an error.
func (w *RevisionWalk) Walk(ctx context.Context, hide, include []entities.ObjectID) ([]entities.ObjectID, error) {
	st := &walk{RevisionWalk: w, nodes: make(map[entities.ObjectID]*walkNode)}

	for _, id := range hide {
		if _, err := st.add(ctx, id, true); err != nil {
			return nil, err
		}
	}
	for _, id := range include {
		n, err := st.add(ctx, id, false)
		if err != nil {
			return nil, err
		}
		if n == nil && !id.IsZero() {
			return nil, fmt.Errorf("commit %s not found", id)
		}
	}

	var discovered []*walkNode
	slop := walkSlop
	for st.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if st.interestingQueued == 0 {
			slop--
			if slop == 0 {
				break
			}
		} else {
			slop = walkSlop
		}

		n := st.pop()
		if !n.uninteresting {
			discovered = append(discovered, n)
		}
		for _, parent := range n.header.Parents {
			p, err := st.add(ctx, parent, n.uninteresting)
			if err != nil {
				return nil, err
			}
			if p == nil && !n.uninteresting {
				w.logger.Debug("Parent commit not in object database, treating as boundary",
					interfaces.F("commit", n.id.String()), interfaces.F("parent", parent.String()))
			}
		}
	}

	ids := make([]entities.ObjectID, 0, len(discovered))
	for _, n := range discovered {
		if !n.uninteresting {
			ids = append(ids, n.id)
		}
	}
	return ids, nil
}

// add loads and queues a commit, or updates the flags of a known one. It
// returns nil when the commit is zero or missing.
func (st *walk) add(ctx context.Context, id entities.ObjectID, uninteresting bool) (*walkNode, error) {
	if id.IsZero() {
		return nil, nil
	}
	if n, ok := st.nodes[id]; ok {
		if uninteresting {
			st.markUninteresting(n)
		}
		return n, nil
	}

	header, found, err := st.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", id, err)
	}
	if !found {
		if uninteresting {
			st.logger.Debug("Excluded commit not in object database, skipping", interfaces.F("commit", id.String()))
		}
		return nil, nil
	}

	n := &walkNode{id: id, header: header, seq: st.seq, uninteresting: uninteresting}
	st.seq++
	st.nodes[id] = n
	st.push(n)
	return n, nil
}

// markUninteresting hides a commit and every already-loaded ancestor
func (st *walk) markUninteresting(n *walkNode) {
	stack := []*walkNode{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.uninteresting {
			continue
		}
		cur.uninteresting = true
		if cur.queued {
			st.interestingQueued--
		}
		for _, parent := range cur.header.Parents {
			if p, ok := st.nodes[parent]; ok {
				stack = append(stack, p)
			}
		}
	}
}

func (st *walk) push(n *walkNode) {
	n.queued = true
	if !n.uninteresting {
		st.interestingQueued++
	}
	heap.Push(&st.queue, n)
}

func (st *walk) pop() *walkNode {
	n := heap.Pop(&st.queue).(*walkNode)
	n.queued = false
	if !n.uninteresting {
		st.interestingQueued--
	}
	return n
}

// walkQueue is a max-heap on committer time, oldest discovery first on ties
type walkQueue []*walkNode

func (q walkQueue) Len() int { return len(q) }

func (q walkQueue) Less(i, j int) bool {
	if !q[i].header.CommitterTime.Equal(q[j].header.CommitterTime) {
		return q[i].header.CommitterTime.After(q[j].header.CommitterTime)
	}
	return q[i].seq < q[j].seq
}

func (q walkQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *walkQueue) Push(x any) {
	n := x.(*walkNode)
	n.index = len(*q)
	*q = append(*q, n)
}

func (q *walkQueue) Pop() any {
	old := *q
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return n
}
