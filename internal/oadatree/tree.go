// Package oadatree folds a change batch into one JSON tree annotated with
// the raw sub-changes that touched each node, per the change-tree builder
// component.
package oadatree

import (
	"strings"

	"github.com/xeipuuv/gojsonpointer"

	"github.com/trellisfw/oada-list-lib-go/internal/wire"
)

// absentType is the builder's internal sentinel standing in for a deleted
// value. It is never part of a stored JSON value, and never equals nil, so
// callers can tell "absent" apart from an ordinary JSON null.
type absentType struct{}

// Absent marks a node as deleted by this batch.
var Absent = absentType{}

// Sidecar is the parallel annotation side-channel keyed by pointer: the list
// of raw sub-changes (in order) that touched that exact node. It is a plain
// map, not a hidden tag on the JSON value itself.
type Sidecar map[string][]wire.Change

// Build folds batch into a tree mirroring the list's shape at this revision,
// plus the sidecar recording which raw changes touched which pointer.
func Build(batch wire.ChangeBatch) (any, Sidecar, error) {
	sidecar := Sidecar{}

	root := batch.Root
	if err := checkType(root.Type); err != nil {
		return nil, nil, err
	}
	tree := normalize(root.Type, root.Body)
	sidecar[""] = append(sidecar[""], root)

	for _, child := range batch.Children {
		if err := checkType(child.Type); err != nil {
			return nil, nil, err
		}
		body := normalize(child.Type, child.Body)
		toks := tokenize(child.Path)
		tree = assign(tree, toks, body)
		sidecar[child.Path] = append(sidecar[child.Path], child)
	}

	return tree, sidecar, nil
}

func checkType(t wire.ChangeType) error {
	switch t {
	case wire.ChangeMerge, wire.ChangeDelete:
		return nil
	default:
		return wire.ErrUnknownChangeType
	}
}

// normalize applies delete's null-leaf-to-Absent translation. Merge bodies
// pass through untouched.
func normalize(t wire.ChangeType, body any) any {
	if t != wire.ChangeDelete {
		return body
	}
	return normalizeDeleted(body)
}

func normalizeDeleted(v any) any {
	if v == nil {
		return Absent
	}
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, vv := range m {
		out[k] = normalizeDeleted(vv)
	}
	return out
}

// assign deep-merges val into tree at the pointer named by toks, creating
// missing intermediate maps along the way.
func assign(tree any, toks []string, val any) any {
	if len(toks) == 0 {
		return mergeAssign(tree, val)
	}
	m, ok := tree.(map[string]any)
	if !ok || m == nil {
		m = map[string]any{}
	}
	key := toks[0]
	m[key] = assign(m[key], toks[1:], val)
	return m
}

// mergeAssign is the deep object assign: maps merge key-by-key recursively;
// anything else (arrays, scalars, Absent) replaces the destination whole.
func mergeAssign(dst, src any) any {
	if src == Absent {
		return Absent
	}
	srcMap, ok := src.(map[string]any)
	if !ok {
		return src
	}
	dstMap, _ := dst.(map[string]any)
	out := make(map[string]any, len(dstMap)+len(srcMap))
	for k, v := range dstMap {
		out[k] = v
	}
	for k, v := range srcMap {
		out[k] = mergeAssign(dstMap[k], v)
	}
	return out
}

// tokenize splits a JSON pointer into its unescaped reference tokens. An
// empty path yields no tokens (the root itself).
func tokenize(path string) []string {
	if path == "" || path == "/" {
		return nil
	}
	raw := strings.Split(strings.TrimPrefix(path, "/"), "/")
	toks := make([]string, len(raw))
	for i, t := range raw {
		t = strings.ReplaceAll(t, "~1", "/")
		t = strings.ReplaceAll(t, "~0", "~")
		toks[i] = t
	}
	return toks
}

// Get navigates tree to the value at pointer, returning (nil, false) if any
// component along the way is missing. Existing-path navigation is delegated
// to gojsonpointer rather than hand-rolled, per spec §1's treatment of the
// JSON-pointer library as an external collaborator; only the root pointer
// ("") is special-cased, since gojsonpointer requires a leading "/".
func Get(tree any, pointer string) (any, bool) {
	if pointer == "" {
		return tree, true
	}
	ptr, err := gojsonpointer.NewJsonPointer(pointer)
	if err != nil {
		return nil, false
	}
	val, _, err := ptr.Get(tree)
	if err != nil {
		return nil, false
	}
	return val, true
}

// Join appends a reference token to a pointer, escaping it per RFC 6901.
func Join(pointer, token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	token = strings.ReplaceAll(token, "/", "~1")
	return pointer + "/" + token
}

// Rebase strips prefix from pointer, panicking-free on mismatch by returning
// pointer unchanged. Used to re-root a sub-change path at an item pointer.
func Rebase(pointer, prefix string) string {
	if !strings.HasPrefix(pointer, prefix) {
		return pointer
	}
	rest := pointer[len(prefix):]
	if rest == "" {
		return ""
	}
	return rest
}
