package pipeline

import "net/http"

// Stage is one step of the request pipeline.
type Stage func(http.Handler) http.Handler

// namedStage pairs a stage with the name reported by Chain.Names.
type namedStage struct {
	name  string
	stage Stage
}

// Chain holds an ordered list of stages.
type Chain struct {
	inner []namedStage // Run in the order added
	outer []namedStage // Wrap every inner stage (for error handling)
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{
		inner: make([]namedStage, 0),
		outer: make([]namedStage, 0),
	}
}

// Use adds a stage. Stages run in the order they were added.
func (c *Chain) Use(name string, s Stage) {
	c.inner = append(c.inner, namedStage{name: name, stage: s})
}

// UseOuter adds a stage that wraps every stage added with Use, regardless
// of registration order. The last UseOuter stage is the outermost.
func (c *Chain) UseOuter(name string, s Stage) {
	c.outer = append(c.outer, namedStage{name: name, stage: s})
}

// Then wraps h with the chain.
func (c *Chain) Then(h http.Handler) http.Handler {
	// Apply inner stages in reverse order (so first added runs first)
	wrapped := h
	for i := len(c.inner) - 1; i >= 0; i-- {
		wrapped = c.inner[i].stage(wrapped)
	}

	// Outer stages wrap in the order added (so last added runs first)
	for _, s := range c.outer {
		wrapped = s.stage(wrapped)
	}

	return wrapped
}

// Names returns the stage names in the order a request passes through them.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.inner)+len(c.outer))
	for i := len(c.outer) - 1; i >= 0; i-- {
		names = append(names, c.outer[i].name)
	}
	for _, s := range c.inner {
		names = append(names, s.name)
	}
	return names
}
