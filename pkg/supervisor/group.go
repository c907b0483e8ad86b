// Package supervisor provides the concurrency primitives the daemon's service
// lifecycle is built from: a task group that races service completions, a
// readiness barrier for network-bound services, and an ordered resource graph
// for deterministic teardown of shared clients.
package supervisor

import (
	"context"
	"sync"

	"github.com/peerdrift/peerd/internal/logger"
)

// Result reports the completion of one task in a Group: which task finished
// and the error it returned, if any.
type Result struct {
	Name string
	Err  error
}

// Group runs a fixed set of named tasks concurrently and exposes their
// completions as first-class values. Tasks are registered with Add before
// Start; Start spawns them all as a single atomic batch, so no task can
// observe a sibling's exit before every task has been spawned.
//
// The first completion - success or failure - is delivered on First(). Which
// task finishes first is inherently non-deterministic; callers must react to
// the fact of completion, not its identity.
type Group struct {
	mu      sync.Mutex
	tasks   []task
	started bool

	wg      sync.WaitGroup
	results chan Result
	first   chan Result
	once    sync.Once
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

// NewGroup creates an empty task group.
func NewGroup() *Group {
	return &Group{
		first: make(chan Result, 1),
	}
}

// Add registers a named task. Must be called before Start; adding a task to a
// started group is a programmer error and panics.
func (g *Group) Add(name string, run func(ctx context.Context) error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		panic("supervisor: Add called after Start")
	}
	g.tasks = append(g.tasks, task{name: name, run: run})
}

// Len returns the number of registered tasks.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// Start spawns every registered task. It is a single atomic batch: by the
// time Start returns, all tasks are running. Start may only be called once.
func (g *Group) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		panic("supervisor: Start called twice")
	}
	g.started = true

	g.results = make(chan Result, len(g.tasks))

	for _, t := range g.tasks {
		g.wg.Add(1)
		go func(t task) {
			defer g.wg.Done()

			err := t.run(ctx)
			res := Result{Name: t.name, Err: err}

			if err != nil {
				logger.Error("Service exited with error", "service", t.name, "error", err)
			} else {
				logger.Info("Service exited", "service", t.name)
			}

			g.once.Do(func() {
				g.first <- res
			})
			g.results <- res
		}(t)
	}
}

// First returns a channel that receives the first completion. The channel is
// buffered; the result is delivered even if nobody is listening yet.
func (g *Group) First() <-chan Result {
	return g.first
}

// Wait blocks until every task has returned and yields all results.
// It must be called after Start.
func (g *Group) Wait() []Result {
	g.wg.Wait()

	close(g.results)
	all := make([]Result, 0, cap(g.results))
	for res := range g.results {
		all = append(all, res)
	}
	return all
}
