// Package middleware provides the request middleware pipeline run before
// route dispatch.
package middleware

import "github.com/searchktools/webserv/core/router"

// HandlerFunc is one middleware link. A link that calls ctx.Abort stops
// the pipeline and skips dispatch; the response goes out as set.
type HandlerFunc func(*router.Context)

// Pipeline is an ordered middleware chain.
type Pipeline struct {
	handlers []HandlerFunc
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{handlers: make([]HandlerFunc, 0, 8)}
}

// Use appends a middleware and returns the pipeline for chaining.
func (p *Pipeline) Use(handler HandlerFunc) *Pipeline {
	p.handlers = append(p.handlers, handler)
	return p
}

// Execute runs the chain in order, then the final handler unless a link
// aborted.
func (p *Pipeline) Execute(ctx *router.Context, final func(*router.Context)) {
	for _, handler := range p.handlers {
		handler(ctx)
		if ctx.IsAborted() {
			return
		}
	}
	final(ctx)
}

// Len reports the number of installed links.
func (p *Pipeline) Len() int { return len(p.handlers) }
