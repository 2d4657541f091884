// ABOUTME: Bounded retention of terminal execution records.
// ABOUTME: Evicts the oldest finished records once the configured limit is exceeded.

package engine

import "container/list"

// retention orders terminal records by completion time, oldest at front.
// Running records are never tracked here and so never evicted.
// Guarded by Engine.mu.
type retention struct {
	max   int
	order *list.List
	index map[string]*list.Element
}

func newRetention(max int) *retention {
	return &retention{
		max:   max,
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// push records a finished execution and returns the ids that fell out.
func (r *retention) push(id string) []string {
	if _, ok := r.index[id]; ok {
		return nil
	}
	r.index[id] = r.order.PushBack(id)

	var evicted []string
	for r.order.Len() > r.max {
		oldest := r.order.Front()
		r.order.Remove(oldest)
		oldID := oldest.Value.(string)
		delete(r.index, oldID)
		evicted = append(evicted, oldID)
	}
	return evicted
}
