package supervisor

import "github.com/peerdrift/peerd/internal/logger"

// ResourceGraph is an ordered list of shared resource releasers.
//
// Resources are registered in construction order (dependencies first, their
// dependents after) and released in the reverse of that order, so a shared
// client is only dropped after every resource that depends on it has dropped
// its own share. Releasing out of order would not corrupt anything - the
// clients are reference counted - but releasing in the documented order is
// what makes their refcounts reach zero promptly instead of being held alive
// by an arbitrary survivor.
//
// Release errors are logged and never abort the pass: teardown is best-effort
// because the process is exiting regardless.
type ResourceGraph struct {
	entries []graphEntry
}

type graphEntry struct {
	name    string
	release func() error
}

// NewResourceGraph creates an empty resource graph.
func NewResourceGraph() *ResourceGraph {
	return &ResourceGraph{}
}

// Add registers a resource releaser. Call in construction order.
func (g *ResourceGraph) Add(name string, release func() error) {
	g.entries = append(g.entries, graphEntry{name: name, release: release})
}

// Len returns the number of registered resources.
func (g *ResourceGraph) Len() int {
	return len(g.entries)
}

// ReleaseInOrder releases every registered resource in reverse registration
// order. Errors are logged per resource; the pass always runs to completion.
func (g *ResourceGraph) ReleaseInOrder() {
	for i := len(g.entries) - 1; i >= 0; i-- {
		e := g.entries[i]
		logger.Debug("Releasing resource", "resource", e.name)
		if err := e.release(); err != nil {
			logger.Error("Resource release failed", "resource", e.name, "error", err)
		}
	}
}
