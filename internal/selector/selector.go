// Package selector compiles and applies the items selector: the JSONPath
// expression identifying which nodes of a built change tree are list items.
package selector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"k8s.io/client-go/util/jsonpath"

	"github.com/trellisfw/oada-list-lib-go/internal/oadatree"
)

// DefaultItemsPath selects direct children of the list whose key does not
// start with "_". Expressed in the property-filter JSONPath notation the
// spec documents; that notation is jsonpath-plus's @property accessor and
// JavaScript RegExp.match, neither of which k8s.io/client-go/util/jsonpath
// implements (it is a distinct, smaller dialect), so this exact expression
// is recognized by literal match rather than run through the engine.
const DefaultItemsPath = `$[?(!@property.match(/^_/))]`

// defaultFilterSuffix is DefaultItemsPath's bracket expression on its own,
// so the default filter is recognized the same way under any dotted prefix
// (e.g. "$.entries[?(!@property.match(/^_/))]"), not just at the list root.
const defaultFilterSuffix = `[?(!@property.match(/^_/))]`

// Match is one (value, pointer) pair selected out of a built tree.
type Match struct {
	Pointer string
	Value   any
}

// Matcher applies a compiled items path against a built tree. Only two
// selector shapes are evaluated: every direct child of a fixed object (a
// bare prefix, or an explicit "[*]" wildcard), and the default
// underscore-exclusion filter, which is semantically identical — spec §4.3
// always excludes "_"-prefixed keys regardless of what the selector
// otherwise names. A node's value need not be an object to be selected —
// removed items surface as the builder's Absent sentinel, which a generic
// pointer-providing JSONPath engine cannot carry provenance for (FindResults
// returns matched values, not the keys they came from), so matching is done
// by our own bounded walk rather than by asking the JSONPath library for
// result values directly. See Compile for why no other filter is evaluated.
type Matcher struct {
	raw    string
	prefix []string
}

var pathPattern = regexp.MustCompile(`^\$((?:\.[A-Za-z_][A-Za-z0-9_]*)*)(\[.*\])?$`)

// Compile parses raw into a Matcher. raw must name a fixed object (the list
// root, or a dotted path below it); the bracketed suffix, if any, must be
// either "[*]" or exactly the default underscore-exclusion filter — the two
// forms Match actually evaluates.
//
// Any other bracket content (a per-field filter such as
// "[?(@.active==true)]", a slice, a recursive descent, ...) is rejected
// rather than silently accepted and matched as if it were a wildcard. It is
// first run through the real JSONPath parser so a malformed expression is
// reported as such; a well-formed one is still rejected, because evaluating
// it for real would require re-associating the engine's matched *values*
// back to the pointers they came from, which breaks the moment two items
// compare equal — see the Matcher doc comment.
func Compile(raw string) (*Matcher, error) {
	m := pathPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("oadalist: items path %q is not a supported selector", raw)
	}

	prefixStr, suffix := m[1], m[2]
	var prefix []string
	if prefixStr != "" {
		prefix = strings.Split(strings.TrimPrefix(prefixStr, "."), ".")
	}

	if suffix != "" && suffix != "[*]" && suffix != defaultFilterSuffix {
		tmpl := "{."
		if prefixStr != "" {
			tmpl += strings.TrimPrefix(prefixStr, ".")
		}
		tmpl += suffix + "}"
		if err := jsonpath.New("items").AllowMissingKeys(true).Parse(tmpl); err != nil {
			return nil, fmt.Errorf("oadalist: invalid items path %q: %w", raw, err)
		}
		return nil, fmt.Errorf("oadalist: items path %q is valid JSONPath but its filter is not evaluated by this matcher (only a bare wildcard and the default underscore-exclusion filter are supported)", raw)
	}

	return &Matcher{raw: raw, prefix: prefix}, nil
}

// Match enumerates the (value, pointer) pairs raw selects against tree, in
// deterministic document order. JSON objects have no positional order once
// decoded into a Go map, so object keys are visited in sorted order; this
// is the Go-native stand-in for "document order" the spec does not further
// constrain.
func (m *Matcher) Match(tree any) ([]Match, error) {
	base := pointerFromTokens(m.prefix)
	node, ok := oadatree.Get(tree, base)
	if !ok {
		return nil, nil
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("oadalist: items path %q does not select an object", m.raw)
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	matches := make([]Match, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, "_") {
			continue
		}
		matches = append(matches, Match{Pointer: oadatree.Join(base, k), Value: obj[k]})
	}
	return matches, nil
}

func pointerFromTokens(toks []string) string {
	p := ""
	for _, t := range toks {
		p = oadatree.Join(p, t)
	}
	return p
}
