package oadahttp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/trellisfw/oada-list-lib-go/internal/wire"
)

func TestGetDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"_rev":4,"K":{"_id":"resources/foo"}}`)
	}))
	defer srv.Close()

	c, err := New(Config{Domain: srv.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := c.Get(context.Background(), wire.GetRequest{Path: "/bookmarks/list"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	m, ok := resp.Data.(map[string]any)
	if !ok || m["_rev"] != float64(4) {
		t.Fatalf("unexpected response: %#v", resp.Data)
	}
}

func TestGetErrorStatusReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(Config{Domain: srv.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Get(context.Background(), wire.GetRequest{Path: "/missing"})
	var statusErr *wire.StatusError
	if err == nil {
		t.Fatalf("expected an error")
	}
	se, ok := err.(*wire.StatusError)
	if !ok {
		t.Fatalf("expected *wire.StatusError, got %T: %v", err, err)
	}
	statusErr = se
	if statusErr.Status != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", statusErr.Status)
	}
}

func TestWatchDecodesSSEChangeBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "id: 1\n")
		fmt.Fprint(w, `data: [{"type":"merge","path":"","body":{"K":{"_id":"resources/foo"},"_rev":4}}]`+"\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := New(Config{Domain: srv.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.Watch(ctx, wire.WatchRequest{Path: "/bookmarks/list", Type: "tree"})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	select {
	case batch := <-ch:
		if batch.Root.Type != wire.ChangeMerge {
			t.Fatalf("unexpected batch: %#v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change batch")
	}
}

func TestPutWithTreeMaterializesMissingParents(t *testing.T) {
	var mu sync.Mutex
	exists := map[string]bool{}
	var postCount int
	var calls []string

	tree := map[string]any{
		"bookmarks": map[string]any{
			"_type": "application/vnd.oada.bookmarks.1+json",
			"list": map[string]any{
				"_type": "application/vnd.oada.lists.1+json",
			},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodHead:
			if exists[r.URL.Path] {
				w.WriteHeader(http.StatusNoContent)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPost:
			postCount++
			id := fmt.Sprintf("resources/%d", postCount)
			w.Header().Set("Location", "/"+id)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"_id":%q}`, id)
		case http.MethodPut:
			exists[r.URL.Path] = true
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	}))
	defer srv.Close()

	c, err := New(Config{Domain: srv.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Put(context.Background(), wire.PutRequest{
		Path: "/bookmarks/list/item1",
		Data: map[string]any{"_id": "resources/99"},
		Tree: tree,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !exists["/bookmarks"] || !exists["/bookmarks/list"] {
		t.Fatalf("expected both missing ancestors to be materialized, calls=%v", calls)
	}
	if postCount != 2 {
		t.Fatalf("expected 2 resource creations for the 2 missing ancestors, got %d (calls=%v)", postCount, calls)
	}
	if !exists["/bookmarks/list/item1"] {
		t.Fatalf("expected the final PUT to still land on item1 itself")
	}
}

func TestGetWithTreeResolvesLinks(t *testing.T) {
	tree := map[string]any{
		"bookmarks": map[string]any{
			"_type": "application/vnd.oada.bookmarks.1+json",
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/bookmarks/list":
			fmt.Fprint(w, `{"bookmarks":{"_id":"resources/bm"}}`)
		case "/resources/bm":
			fmt.Fprint(w, `{"_id":"resources/bm","name":"root"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := New(Config{Domain: srv.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := c.Get(context.Background(), wire.GetRequest{Path: "/bookmarks/list", Tree: tree})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	m, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected response: %#v", resp.Data)
	}
	bm, ok := m["bookmarks"].(map[string]any)
	if !ok || bm["name"] != "root" {
		t.Fatalf("expected the bookmarks link resolved to its body, got %#v", m["bookmarks"])
	}
}
