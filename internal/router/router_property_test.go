//go:build property

package router

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRouterProperties validates structural properties of route resolution.
func TestRouterProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	segmentGen := gen.RegexMatch(`[a-z][a-z0-9]{0,7}`)

	// Property: a literal route always wins over a parameter route at the
	// same position, regardless of insertion order.
	properties.Property("literal beats parameter", prop.ForAll(
		func(lit string, insertLiteralFirst bool) bool {
			root := newNode("")

			litSegs := []Segment{{Type: SegmentLiteral, Value: lit}}
			paramSegs := []Segment{{Type: SegmentParam, Value: "p"}}

			litEntry := &Entry{Pattern: "/" + lit}
			paramEntry := &Entry{Pattern: "/[p]"}

			if insertLiteralFirst {
				root.insert(litSegs).entry = litEntry
				root.insert(paramSegs).entry = paramEntry
			} else {
				root.insert(paramSegs).entry = paramEntry
				root.insert(litSegs).entry = litEntry
			}

			entry, captured, ok := root.match([]string{lit}, nil)
			return ok && entry == litEntry && len(captured) == 0
		},
		segmentGen,
		gen.Bool(),
	))

	// Property: resolving a path built from a registered literal pattern
	// always finds that pattern.
	properties.Property("registered literal paths resolve to themselves", prop.ForAll(
		func(parts []string) bool {
			if len(parts) == 0 || len(parts) > 5 {
				return true
			}
			root := newNode("")
			segs := make([]Segment, 0, len(parts))
			for _, p := range parts {
				segs = append(segs, Segment{Type: SegmentLiteral, Value: p})
			}
			want := &Entry{Pattern: "/" + strings.Join(parts, "/")}
			root.insert(segs).entry = want

			entry, _, ok := root.match(parts, nil)
			return ok && entry == want
		},
		gen.SliceOf(segmentGen),
	))

	// Property: when the literal branch dead-ends the resolver falls back
	// to the parameter branch and the result carries exactly the captures
	// of the winning branch.
	properties.Property("dead-end literal falls back to parameter", prop.ForAll(
		func(a, b, other string) bool {
			if b == other {
				return true
			}
			root := newNode("")
			// /a/<other> exists as a literal; /[x]/<b> is the only route
			// that can match /a/<b>.
			root.insert([]Segment{{Type: SegmentLiteral, Value: a}, {Type: SegmentLiteral, Value: other}}).entry = &Entry{}
			want := &Entry{}
			root.insert([]Segment{{Type: SegmentParam, Value: "x"}, {Type: SegmentLiteral, Value: b}}).entry = want

			entry, captured, ok := root.match([]string{a, b}, nil)
			return ok && entry == want && len(captured) == 1 && captured[0] == a
		},
		segmentGen,
		segmentGen,
		segmentGen,
	))

	properties.TestingRun(t)
}
