package syntax

import (
	"context"

	"github.com/pkg/errors"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// Parse runs the structural parser over source and flattens the result into
// a Tree. Each tree-sitter node becomes one arena span; nodes without
// children additionally become leaf tokens, in offset order.
//
// Tree-sitter is error tolerant, so syntactically broken input still yields
// a tree; the affected regions simply appear under ERROR nodes.
func Parse(ctx context.Context, source []byte) (*Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())

	parsed, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, errors.Wrap(err, "structural parse failed")
	}
	root := parsed.RootNode()
	if root == nil {
		return nil, errors.New("structural parse produced no tree")
	}

	t := &Tree{Source: source}
	flatten(t, root, -1, 0)
	for i := range t.Leaves {
		t.Leaves[i].Index = i
	}
	return t, nil
}

// flatten appends node and its subtree to the arena, returning the new
// span's id. Leaves land in t.Leaves as a side effect.
func flatten(t *Tree, node *sitter.Node, parent, depth int) int {
	id := len(t.Spans)
	t.Spans = append(t.Spans, Span{
		ID:     id,
		Type:   node.Type(),
		Start:  int(node.StartByte()),
		End:    int(node.EndByte()),
		Parent: parent,
	})

	count := int(node.ChildCount())
	if count == 0 {
		t.Leaves = append(t.Leaves, Token{
			Type:  node.Type(),
			Text:  string(t.Source[node.StartByte():node.EndByte()]),
			Start: int(node.StartByte()),
			End:   int(node.EndByte()),
			Depth: depth,
		})
		return id
	}

	for i := 0; i < count; i++ {
		childID := flatten(t, node.Child(i), id, depth+1)
		t.Spans[id].Children = append(t.Spans[id].Children, childID)
	}
	return id
}
