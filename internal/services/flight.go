package services

import (
	"context"
	"sort"
	"sync"
)

// flight tracks the callers waiting on one shared (media, model) detection run.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
	jobs    map[string]int
}

type flights struct {
	mu    sync.Mutex
	byKey map[string]*flight
}

func newFlights() *flights {
	return &flights{byKey: make(map[string]*flight)}
}

// join registers a waiter for key, creating the flight and its run context on first use.
func (fs *flights) join(key, job string) *flight {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.byKey[key]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		f = &flight{ctx: ctx, cancel: cancel, jobs: make(map[string]int)}
		fs.byKey[key] = f
	}
	f.waiters++
	f.jobs[job]++
	return f
}

// leave drops a waiter. The run is cancelled once nobody waits for it.
func (fs *flights) leave(key, job string, f *flight) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f.waiters--
	if f.jobs[job]--; f.jobs[job] <= 0 {
		delete(f.jobs, job)
	}
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if fs.byKey[key] == f {
		delete(fs.byKey, key)
	}
}

// jobs returns the job ids currently waiting on f.
func (fs *flights) jobs(f *flight) []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ids := make([]string, 0, len(f.jobs))
	for id := range f.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
