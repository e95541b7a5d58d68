// used by the server to map request paths to handlers

package router

import (
	"slices"
	"strings"
)

// NodeID indexes a node in the router's arena. The root is always 0.
type NodeID int

const (
	RootID NodeID = 0
	noNode NodeID = -1
)

// Placeholder is the template segment that matches any single segment.
const Placeholder = "$"

// RootSegment is the sentinel that starts every split path.
const RootSegment = "/"

type node[H any] struct {
	segment string
	// diagnostics only, lookups never walk upwards
	parent NodeID

	// literal children keyed by segment text
	children map[string]NodeID
	// the "$" child, if any
	placeholder NodeID

	handler    H
	hasHandler bool
}

func newNode[H any](segment string, parent NodeID) node[H] {
	return node[H]{
		segment:     segment,
		parent:      parent,
		children:    make(map[string]NodeID),
		placeholder: noNode,
	}
}

// Router is a URI trie. All nodes live in one slice and refer to each other
// by index, so the tree holds no pointers into itself.
//
// Register is not safe for concurrent use. Once registration is over the
// router is read-only and lookups need no locking.
type Router[H any] struct {
	nodes []node[H]
}

// New returns a router holding only the root node.
func New[H any]() *Router[H] {
	return &Router[H]{nodes: []node[H]{newNode[H](RootSegment, noNode)}}
}

// Match is the result of a successful lookup.
type Match[H any] struct {
	Node     NodeID
	Template string
	Handler  H
	// Params holds, in order, the concrete segments matched by placeholders.
	Params []string
}

func splitTemplate(template string) ([]string, error) {
	if template == "" || !strings.HasPrefix(template, "/") || strings.Contains(template, "?") {
		return nil, ErrInvalidPath
	}
	if template == RootSegment {
		return nil, nil
	}

	var segments []string
	for seg := range strings.SplitSeq(template, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		return nil, ErrInvalidPath
	}
	return segments, nil
}

func (r *Router[H]) child(parent NodeID, segment string) NodeID {
	if segment == Placeholder {
		if id := r.nodes[parent].placeholder; id != noNode {
			return id
		}
	} else if id, ok := r.nodes[parent].children[segment]; ok {
		return id
	}

	id := NodeID(len(r.nodes))
	r.nodes = append(r.nodes, newNode[H](segment, parent))
	if segment == Placeholder {
		r.nodes[parent].placeholder = id
	} else {
		r.nodes[parent].children[segment] = id
	}
	return id
}

// Register attaches h to the node for template, creating intermediate nodes
// as needed. Registering the same template again overwrites the handler and
// reports replaced.
func (r *Router[H]) Register(template string, h H) (replaced bool, err error) {
	segments, err := splitTemplate(template)
	if err != nil {
		return false, err
	}

	id := RootID
	for _, seg := range segments {
		id = r.child(id, seg)
	}

	n := &r.nodes[id]
	replaced = n.hasHandler
	n.handler = h
	n.hasHandler = true
	return replaced, nil
}

// Resolve returns the handler registered for an already split and decoded
// path whose first element is [RootSegment]. Nodes that were only created
// as intermediates never match.
func (r *Router[H]) Resolve(segments []string) (H, bool) {
	m, ok := r.Lookup(segments)
	return m.Handler, ok
}

// Lookup is [Router.Resolve] with the matched node, its template and the
// placeholder values.
func (r *Router[H]) Lookup(segments []string) (Match[H], bool) {
	if len(segments) == 0 || segments[0] != RootSegment {
		return Match[H]{}, false
	}

	id, params, ok := r.walk(RootID, segments[1:], nil)
	if !ok {
		return Match[H]{}, false
	}
	return Match[H]{
		Node:     id,
		Template: r.Template(id),
		Handler:  r.nodes[id].handler,
		Params:   params,
	}, true
}

// walk prefers the literal child and falls back to the placeholder child
// when the literal branch does not lead to a handler.
func (r *Router[H]) walk(id NodeID, segments []string, params []string) (NodeID, []string, bool) {
	n := &r.nodes[id]
	if len(segments) == 0 {
		return id, params, n.hasHandler
	}

	seg := segments[0]
	if child, ok := n.children[seg]; ok {
		if found, p, ok := r.walk(child, segments[1:], params); ok {
			return found, p, true
		}
	}
	if n.placeholder != noNode && seg != "" {
		return r.walk(n.placeholder, segments[1:], append(params[:len(params):len(params)], seg))
	}
	return noNode, nil, false
}

// Template rebuilds the template of a node by following parent links.
func (r *Router[H]) Template(id NodeID) string {
	if id < 0 || int(id) >= len(r.nodes) {
		return ""
	}

	var segments []string
	for cur := id; cur != RootID; cur = r.nodes[cur].parent {
		segments = append(segments, r.nodes[cur].segment)
	}
	slices.Reverse(segments)
	return "/" + strings.Join(segments, "/")
}

// Routes lists every template that has a handler, sorted.
func (r *Router[H]) Routes() []string {
	var routes []string
	for i := range r.nodes {
		if r.nodes[i].hasHandler {
			routes = append(routes, r.Template(NodeID(i)))
		}
	}
	slices.Sort(routes)
	return routes
}

// Len returns the number of nodes, root included.
func (r *Router[H]) Len() int {
	return len(r.nodes)
}
