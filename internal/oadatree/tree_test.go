package oadatree

import (
	"reflect"
	"testing"

	"github.com/trellisfw/oada-list-lib-go/internal/wire"
)

func TestBuildMergeRootOnly(t *testing.T) {
	batch := wire.ChangeBatch{
		Root: wire.Change{
			Type: wire.ChangeMerge,
			Path: "",
			Body: map[string]any{"K": map[string]any{"_id": "resources/foo"}, "_rev": float64(4)},
		},
	}

	tree, sidecar, err := Build(batch)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	k, ok := Get(tree, "/K")
	if !ok {
		t.Fatalf("expected /K present")
	}
	if m, ok := k.(map[string]any); !ok || m["_id"] != "resources/foo" {
		t.Fatalf("unexpected /K value: %#v", k)
	}
	if len(sidecar[""]) != 1 {
		t.Fatalf("expected root sidecar entry, got %#v", sidecar)
	}
}

func TestBuildDeleteTranslatesNullLeaves(t *testing.T) {
	batch := wire.ChangeBatch{
		Root: wire.Change{
			Type: wire.ChangeDelete,
			Path: "",
			Body: map[string]any{"K": nil, "other": "untouched"},
		},
	}

	tree, _, err := Build(batch)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	k, ok := Get(tree, "/K")
	if !ok || k != Absent {
		t.Fatalf("expected /K == Absent, got %#v (ok=%v)", k, ok)
	}
	other, ok := Get(tree, "/other")
	if !ok || other != "untouched" {
		t.Fatalf("expected /other untouched, got %#v", other)
	}
}

func TestBuildChildMergeCreatesMissingParents(t *testing.T) {
	batch := wire.ChangeBatch{
		Root: wire.Change{Type: wire.ChangeMerge, Path: "", Body: map[string]any{"_rev": float64(4)}},
		Children: []wire.Change{
			{Type: wire.ChangeMerge, Path: "/K", Body: map[string]any{"foo": "bar", "_rev": float64(4)}},
		},
	}

	tree, sidecar, err := Build(batch)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	foo, ok := Get(tree, "/K/foo")
	if !ok || foo != "bar" {
		t.Fatalf("expected /K/foo == bar, got %#v", foo)
	}
	if len(sidecar["/K"]) != 1 {
		t.Fatalf("expected one sidecar entry at /K, got %#v", sidecar["/K"])
	}
}

func TestBuildLaterChildOverridesEarlierAtMatchingKeys(t *testing.T) {
	batch := wire.ChangeBatch{
		Root: wire.Change{Type: wire.ChangeMerge, Path: "", Body: map[string]any{}},
		Children: []wire.Change{
			{Type: wire.ChangeMerge, Path: "/K", Body: map[string]any{"a": 1, "b": 1}},
			{Type: wire.ChangeMerge, Path: "/K", Body: map[string]any{"b": 2}},
		},
	}

	tree, _, err := Build(batch)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	k, _ := Get(tree, "/K")
	want := map[string]any{"a": 1, "b": 2}
	if !reflect.DeepEqual(k, want) {
		t.Fatalf("got %#v, want %#v", k, want)
	}
}

func TestBuildArraysReplaceWhole(t *testing.T) {
	batch := wire.ChangeBatch{
		Root: wire.Change{Type: wire.ChangeMerge, Path: "", Body: map[string]any{"list": []any{1, 2, 3}}},
		Children: []wire.Change{
			{Type: wire.ChangeMerge, Path: "", Body: map[string]any{"list": []any{9}}},
		},
	}

	tree, _, err := Build(batch)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	l, _ := Get(tree, "/list")
	want := []any{9}
	if !reflect.DeepEqual(l, want) {
		t.Fatalf("got %#v, want %#v", l, want)
	}
}

func TestBuildUnknownChangeType(t *testing.T) {
	batch := wire.ChangeBatch{Root: wire.Change{Type: "bogus"}}
	if _, _, err := Build(batch); err != wire.ErrUnknownChangeType {
		t.Fatalf("expected ErrUnknownChangeType, got %v", err)
	}
}

func TestRebase(t *testing.T) {
	if got := Rebase("/K/foo", "/K"); got != "/foo" {
		t.Fatalf("got %q", got)
	}
	if got := Rebase("/K", "/K"); got != "" {
		t.Fatalf("got %q", got)
	}
}
