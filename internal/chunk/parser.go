package chunk

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser parses source bytes into the package's own Tree type via
// tree-sitter. A Parser is not safe for concurrent use; each chunker
// owns one.
type Parser struct {
	parser   *sitter.Parser
	registry *LanguageRegistry
}

// NewParser returns a Parser over the default language registry.
func NewParser() *Parser {
	return NewParserWithRegistry(DefaultRegistry())
}

// NewParserWithRegistry returns a Parser over a caller-supplied
// registry; the code chunker uses this to share one registry with its
// symbol extractor.
func NewParserWithRegistry(registry *LanguageRegistry) *Parser {
	return &Parser{
		parser:   sitter.NewParser(),
		registry: registry,
	}
}

// Parse parses source in the named language. The returned Tree owns a
// lifted copy of the node structure, so it stays valid after the
// underlying tree-sitter tree is released.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	tsLang, ok := p.registry.GetTreeSitterLanguage(language)
	if !ok {
		return nil, fmt.Errorf("chunk: unsupported language: %s", language)
	}

	p.parser.SetLanguage(tsLang)

	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("chunk: parse: %w", err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("chunk: parse produced no tree")
	}

	return &Tree{
		Root:     liftNode(tsTree.RootNode()),
		Source:   source,
		Language: language,
	}, nil
}

// Close releases the underlying tree-sitter parser.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

// liftNode copies a tree-sitter node (and its subtree) into the
// package's Node type.
func liftNode(tsNode *sitter.Node) *Node {
	if tsNode == nil {
		return nil
	}

	node := &Node{
		Type:      tsNode.Type(),
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		StartPoint: Point{
			Row:    tsNode.StartPoint().Row,
			Column: tsNode.StartPoint().Column,
		},
		EndPoint: Point{
			Row:    tsNode.EndPoint().Row,
			Column: tsNode.EndPoint().Column,
		},
		HasError: tsNode.HasError(),
		Children: make([]*Node, 0, int(tsNode.ChildCount())),
	}

	for i := uint32(0); i < tsNode.ChildCount(); i++ {
		if child := tsNode.Child(int(i)); child != nil {
			node.Children = append(node.Children, liftNode(child))
		}
	}
	return node
}

// GetContent slices the node's byte range out of source, empty on any
// out-of-range span.
func (n *Node) GetContent(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// FindChildByType returns the first direct child of the given type.
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// FindChildrenByType returns all direct children of the given type.
func (n *Node) FindChildrenByType(nodeType string) []*Node {
	var result []*Node
	for _, child := range n.Children {
		if child.Type == nodeType {
			result = append(result, child)
		}
	}
	return result
}

// FindAllByType returns every node of the given type in the subtree,
// including n itself, in depth-first order.
func (n *Node) FindAllByType(nodeType string) []*Node {
	var result []*Node
	if n.Type == nodeType {
		result = append(result, n)
	}
	for _, child := range n.Children {
		result = append(result, child.FindAllByType(nodeType)...)
	}
	return result
}

// Walk visits the subtree depth-first; fn returning false prunes the
// node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
