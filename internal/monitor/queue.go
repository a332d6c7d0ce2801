package monitor

// page is a document waiting to be loaded
type page struct {
	URL      string
	Depth    int
	Referrer string
}

// Queue is a BFS queue of pages. A URL is accepted once per run.
type Queue struct {
	items   []page
	visited map[string]bool
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{visited: make(map[string]bool)}
}

// Push adds p unless its URL was queued before.
// Returns true if added, false if duplicate.
func (q *Queue) Push(p page) bool {
	if q.visited[p.URL] {
		return false
	}
	q.visited[p.URL] = true
	q.items = append(q.items, p)
	return true
}

// Pop removes and returns the first page; ok is false when the queue is empty
func (q *Queue) Pop() (page, bool) {
	if len(q.items) == 0 {
		return page{}, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

// Size returns the number of waiting pages
func (q *Queue) Size() int { return len(q.items) }
