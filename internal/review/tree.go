// Package review models a book's nested review thread as an arena-backed
// tree: nodes live in one slice, relationships are index lists, and children
// are fetched lazily per node. A node's reply count is always known from the
// server; whether its children have been loaded is tracked separately.
package review

import (
	"context"
	"sync"

	"github.com/libroom/chatkit/internal/model"
)

// Fetcher loads the direct replies of one review. *api.Client satisfies it.
type Fetcher interface {
	ReviewReplies(ctx context.Context, reviewID string) ([]model.Review, error)
}

type node struct {
	review   model.Review
	parent   int // arena index, -1 for roots
	children []int
	loaded   bool
}

type Tree struct {
	mu    sync.RWMutex
	arena []node
	index map[string]int // review id -> arena index
	roots []int
}

// NewTree seeds the tree with a book's top-level reviews.
func NewTree(roots []model.Review) *Tree {
	t := &Tree{index: make(map[string]int)}
	for _, r := range roots {
		t.addLocked(r, -1)
	}
	return t
}

// callers hold t.mu (or run before the tree is shared)
func (t *Tree) addLocked(r model.Review, parent int) int {
	if idx, ok := t.index[r.ID]; ok {
		t.arena[idx].review = r
		return idx
	}
	idx := len(t.arena)
	t.arena = append(t.arena, node{review: r, parent: parent})
	t.index[r.ID] = idx
	if parent < 0 {
		t.roots = append(t.roots, idx)
	} else {
		t.arena[parent].children = append(t.arena[parent].children, idx)
	}
	return idx
}

func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.arena)
}

func (t *Tree) Roots() []model.Review {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.collect(t.roots)
}

func (t *Tree) Get(id string) (model.Review, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx, ok := t.index[id]; ok {
		return t.arena[idx].review, true
	}
	return model.Review{}, false
}

// ReplyCount is the server-known total, valid whether or not the children
// have been loaded yet.
func (t *Tree) ReplyCount(id string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx, ok := t.index[id]; ok {
		return t.arena[idx].review.ReplyCount
	}
	return 0
}

// Children returns the loaded replies of a node and whether they have been
// loaded at all. An unloaded node with a positive ReplyCount renders as a
// collapsed "N replies" stub.
func (t *Tree) Children(id string) ([]model.Review, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[id]
	if !ok {
		return nil, false
	}
	if !t.arena[idx].loaded {
		return nil, false
	}
	return t.collect(t.arena[idx].children), true
}

// LoadChildren populates a node's replies on first expand; subsequent calls
// return the cached children without hitting the fetcher.
func (t *Tree) LoadChildren(ctx context.Context, f Fetcher, id string) ([]model.Review, error) {
	t.mu.RLock()
	idx, ok := t.index[id]
	if ok && t.arena[idx].loaded {
		children := t.collect(t.arena[idx].children)
		t.mu.RUnlock()
		return children, nil
	}
	t.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	replies, err := f.ReviewReplies(ctx, id)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	idx = t.index[id]
	if !t.arena[idx].loaded {
		for _, r := range replies {
			t.addLocked(r, idx)
		}
		t.arena[idx].loaded = true
	}
	return t.collect(t.arena[idx].children), nil
}

// Add inserts a freshly posted reply under its parent (or as a new root) and
// bumps the parent's reply count.
func (t *Tree) Add(r model.Review) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent := -1
	if r.ParentID != "" {
		idx, ok := t.index[r.ParentID]
		if !ok {
			return
		}
		parent = idx
		t.arena[idx].review.ReplyCount++
	}
	t.addLocked(r, parent)
}

// Walk visits loaded nodes depth-first, parents before children, with the
// nesting depth, the order a flattened thread renders in.
func (t *Tree) Walk(fn func(r model.Review, depth int)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var visit func(idx, depth int)
	visit = func(idx, depth int) {
		fn(t.arena[idx].review, depth)
		for _, child := range t.arena[idx].children {
			visit(child, depth+1)
		}
	}
	for _, idx := range t.roots {
		visit(idx, 0)
	}
}

// callers hold t.mu
func (t *Tree) collect(idxs []int) []model.Review {
	out := make([]model.Review, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, t.arena[idx].review)
	}
	return out
}
