// Package router builds an immutable route table from two file-system
// subtrees (view routes and API routes) and resolves request paths against
// it with literal > parameter > catch-all precedence.
//
// View routes come from page.tsx files under the app directory; API routes
// come from handler files under the api routes directory. Bracketed path
// components ([id]) become named parameters and [...name] components become
// terminal catch-alls. Two files producing the same pattern of the same kind
// are a build-time route conflict; the table is never activated with one.
package router

import "strings"

// Kind distinguishes view routes from API routes.
type Kind string

const (
	KindView Kind = "view"
	KindAPI  Kind = "api"
)

// SegmentType classifies one pattern segment.
type SegmentType int

const (
	SegmentLiteral SegmentType = iota
	SegmentParam
	SegmentCatchAll
)

// Segment is one component of a route pattern.
type Segment struct {
	Type  SegmentType
	Value string // literal text, or parameter name
}

// Entry is one route in the table. Entries are immutable once the table is
// built.
type Entry struct {
	Pattern     string
	Segments    []Segment
	Kind        Kind
	ArtifactRef string // project-relative source path backing this route
	ParamNames  []string
}

// Match is the result of resolving a request path.
type Match struct {
	Entry  *Entry
	Params map[string]string
}

// patternString renders segments back into a canonical pattern such as
// /users/[id] or /docs/[...slug].
func patternString(segments []Segment) string {
	if len(segments) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, seg := range segments {
		b.WriteByte('/')
		switch seg.Type {
		case SegmentParam:
			b.WriteString("[" + seg.Value + "]")
		case SegmentCatchAll:
			b.WriteString("[..." + seg.Value + "]")
		default:
			b.WriteString(seg.Value)
		}
	}
	return b.String()
}

// splitPath splits a request path into segments.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
