package transport

import (
	"hash/fnv"
	"sync"
)

// Router runs jobs on a fixed set of workers, always sending the same key
// to the same worker. Jobs for one device therefore run in arrival order
// while different devices proceed in parallel.
type Router struct {
	mu      sync.RWMutex
	shards  []chan func()
	wg      sync.WaitGroup
	stopped bool
}

// NewRouter starts workers goroutines with a queue of queue jobs each.
func NewRouter(workers, queue int) *Router {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1
	}
	r := &Router{shards: make([]chan func(), workers)}
	for i := range r.shards {
		ch := make(chan func(), queue)
		r.shards[i] = ch
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for job := range ch {
				job()
			}
		}()
	}
	return r
}

// Submit queues job on the key's worker, blocking while that queue is
// full. It returns false once the router is stopped.
func (r *Router) Submit(key string, job func()) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return false
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	r.shards[h.Sum32()%uint32(len(r.shards))] <- job
	return true
}

// Stop rejects new jobs, runs the queued ones and waits for the workers.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	for _, ch := range r.shards {
		close(ch)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
