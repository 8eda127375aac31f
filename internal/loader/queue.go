package loader

import "container/heap"

// queueItem is one chunk waiting for a load slot.
type queueItem struct {
	sessionID string
	chunkID   string
	index     int
	priority  int
	seq       uint64
}

func (it *queueItem) key() string {
	return loadKey(it.sessionID, it.chunkID)
}

func loadKey(sessionID, chunkID string) string {
	return sessionID + "/" + chunkID
}

// chunkQueue is a max-heap on priority with FIFO order among equals.
type chunkQueue []*queueItem

func (q chunkQueue) Len() int { return len(q) }

func (q chunkQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q chunkQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *chunkQueue) Push(x any) { *q = append(*q, x.(*queueItem)) }

func (q *chunkQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

func (q *chunkQueue) push(it *queueItem) { heap.Push(q, it) }

func (q *chunkQueue) pop() *queueItem { return heap.Pop(q).(*queueItem) }

// removeSession drops every item of sessionID and returns them.
func (q *chunkQueue) removeSession(sessionID string) []*queueItem {
	var removed []*queueItem
	kept := (*q)[:0]
	for _, it := range *q {
		if it.sessionID == sessionID {
			removed = append(removed, it)
		} else {
			kept = append(kept, it)
		}
	}
	for i := len(kept); i < len(*q); i++ {
		(*q)[i] = nil
	}
	*q = kept
	heap.Init(q)
	return removed
}
