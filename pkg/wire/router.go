package wire

import (
	"context"
	"strings"
)

// Handler processes a frame and returns a response frame.
type Handler interface {
	Handle(ctx context.Context, msg *Message) (*Message, error)
}

// HandlerFunc is a function type that implements Handler.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

// route is one registered method + path pattern.
type route struct {
	method   Method
	segments []string
	handler  Handler
}

// Router dispatches RPC frames to handlers by method and path. Patterns may
// contain :param segments, which bind into Message.Params before the handler
// runs.
type Router struct {
	routes []route
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Handle registers a handler for a method and path pattern.
func (r *Router) Handle(method Method, path string, handler Handler) {
	r.routes = append(r.routes, route{
		method:   method,
		segments: splitPath(path),
		handler:  handler,
	})
}

// HandleFunc registers a handler function for a method and path pattern.
func (r *Router) HandleFunc(method Method, path string, fn HandlerFunc) {
	r.Handle(method, path, fn)
}

// Dispatch routes a frame to the first matching handler. Unmatched frames
// get a NOT_FOUND error response rather than an error return, so transports
// can forward the result unconditionally.
func (r *Router) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	segments := splitPath(msg.Path)
	for _, rt := range r.routes {
		if rt.method != msg.Method {
			continue
		}
		params, ok := matchSegments(rt.segments, segments)
		if !ok {
			continue
		}
		msg.Params = params
		return rt.handler.Handle(ctx, msg)
	}
	return NewErrorMessage(msg.ID, ErrorCodeNotFound,
		"no route for "+string(msg.Method)+" "+msg.Path), nil
}

// HasRoute reports whether a handler is registered for the method and path.
func (r *Router) HasRoute(method Method, path string) bool {
	segments := splitPath(path)
	for _, rt := range r.routes {
		if rt.method != method {
			continue
		}
		if _, ok := matchSegments(rt.segments, segments); ok {
			return true
		}
	}
	return false
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// matchSegments compares a pattern against a concrete path, binding :param
// segments. Segment counts must match exactly.
func matchSegments(pattern, path []string) (map[string]string, bool) {
	if len(pattern) != len(path) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:]] = path[i]
			continue
		}
		if seg != path[i] {
			return nil, false
		}
	}
	return params, true
}
