package tunit

import (
	"context"
	"errors"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

var ErrClosed = errors.New("translation unit closed")

// Unit wraps a tree-sitter parser instance along with the stateful syntax
// tree and source of one translation unit. A Unit belongs to exactly one
// document; the document's owner serializes updates, Close may race with a
// late update and is guarded by the mutex.
type Unit struct {
	mu      sync.Mutex
	parser  *sitter.Parser
	tree    *sitter.Tree
	content []byte
	closed  bool
}

func newUnit(lang *sitter.Language) *Unit {
	p := sitter.NewParser()
	p.SetLanguage(lang)
	return &Unit{parser: p}
}

// HasTree reports whether the unit holds a parsed tree.
func (un *Unit) HasTree() bool {
	un.mu.Lock()
	defer un.mu.Unlock()
	return un.tree != nil
}

// Close frees the tree and parser. Further updates fail with ErrClosed.
func (un *Unit) Close() error {
	un.mu.Lock()
	defer un.mu.Unlock()

	if un.tree != nil {
		un.tree.Close()
		un.tree = nil
	}
	if un.parser != nil {
		un.parser.Close()
		un.parser = nil
	}
	un.closed = true
	return nil
}

// parse builds a fresh tree from content. Caller holds un.mu.
func (un *Unit) parse(ctx context.Context, content []byte) error {
	tree, err := un.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return err
	}
	if un.tree != nil {
		un.tree.Close()
	}
	un.tree = tree
	un.content = content
	return nil
}

// reparse applies the edit between the old and new content to the existing
// tree and re-parses incrementally. Caller holds un.mu.
func (un *Unit) reparse(ctx context.Context, content []byte) error {
	edit := calculateEdit(un.content, content)
	un.tree.Edit(edit)

	tree, err := un.parser.ParseCtx(ctx, un.tree, content)
	if err != nil {
		return err
	}
	if un.tree != tree {
		un.tree.Close()
	}
	un.tree = tree
	un.content = content
	return nil
}
