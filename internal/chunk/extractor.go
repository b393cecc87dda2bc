package chunk

import (
	"strings"
)

// SymbolExtractor pulls named definitions out of a parsed tree. Extract
// walks a whole tree; the code chunker uses only the per-node name
// lookup and the function-valued-declaration check to label its chunks.
type SymbolExtractor struct {
	registry *LanguageRegistry
}

// NewSymbolExtractor returns an extractor over the default registry.
func NewSymbolExtractor() *SymbolExtractor {
	return NewSymbolExtractorWithRegistry(DefaultRegistry())
}

// NewSymbolExtractorWithRegistry returns an extractor over a
// caller-supplied registry.
func NewSymbolExtractorWithRegistry(registry *LanguageRegistry) *SymbolExtractor {
	return &SymbolExtractor{registry: registry}
}

// Extract walks the tree and returns every symbol it defines. Always
// returns a non-nil slice.
func (e *SymbolExtractor) Extract(tree *Tree, source []byte) []*Symbol {
	if tree == nil || tree.Root == nil {
		return []*Symbol{}
	}
	config, ok := e.registry.GetByName(tree.Language)
	if !ok {
		return []*Symbol{}
	}

	symbols := []*Symbol{}
	tree.Root.Walk(func(n *Node) bool {
		if symbol := e.symbolFromNode(n, source, config, tree.Language); symbol != nil {
			symbols = append(symbols, symbol)
		}
		return true
	})
	return symbols
}

// symbolFromNode classifies one node against the language's node-type
// tables and, on a match, builds the Symbol with name, signature, and
// doc comment. Nodes matching no table still get the special-case
// check for function-valued variable declarations.
func (e *SymbolExtractor) symbolFromNode(n *Node, source []byte, config *LanguageConfig, language string) *Symbol {
	symbolType, found := classify(n.Type, config)
	if !found {
		return e.extractSpecialSymbol(n, source, language)
	}

	name := e.extractName(n, source, config, language)
	if name == "" {
		return nil
	}

	return &Symbol{
		Name:       name,
		Type:       symbolType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		Signature:  e.extractSignature(n, source, symbolType, language),
		DocComment: e.precedingLineComment(n, source, language),
	}
}

func classify(nodeType string, config *LanguageConfig) (SymbolType, bool) {
	tables := []struct {
		types []string
		kind  SymbolType
	}{
		{config.FunctionTypes, SymbolTypeFunction},
		{config.MethodTypes, SymbolTypeMethod},
		{config.ClassTypes, SymbolTypeClass},
		{config.InterfaceTypes, SymbolTypeInterface},
		{config.TypeDefTypes, SymbolTypeType},
		{config.ConstantTypes, SymbolTypeConstant},
		{config.VariableTypes, SymbolTypeVariable},
	}
	for _, table := range tables {
		for _, t := range table.types {
			if nodeType == t {
				return table.kind, true
			}
		}
	}
	return "", false
}

// extractName finds the declared name of a symbol node. Grammars put
// the name in different child node types, so each language gets its
// own walk.
func (e *SymbolExtractor) extractName(n *Node, source []byte, config *LanguageConfig, language string) string {
	switch language {
	case "go":
		return e.goName(n, source)
	case "typescript", "tsx", "javascript", "jsx":
		return e.jsName(n, source)
	case "python":
		return firstChildContent(n, source, "identifier")
	default:
		return firstChildContent(n, source, "identifier")
	}
}

func firstChildContent(n *Node, source []byte, childType string) string {
	for _, child := range n.Children {
		if child.Type == childType {
			return child.GetContent(source)
		}
	}
	return ""
}

func (e *SymbolExtractor) goName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		return firstChildContent(n, source, "identifier")
	case "method_declaration":
		// Method names are field_identifier, not identifier.
		return firstChildContent(n, source, "field_identifier")
	case "type_declaration":
		for _, child := range n.Children {
			if child.Type == "type_spec" {
				if name := firstChildContent(child, source, "type_identifier"); name != "" {
					return name
				}
			}
		}
	case "const_declaration", "var_declaration":
		// Grouped declarations take the first spec's first name.
		specType := "const_spec"
		if n.Type == "var_declaration" {
			specType = "var_spec"
		}
		for _, child := range n.Children {
			if child.Type == specType {
				if name := firstChildContent(child, source, "identifier"); name != "" {
					return name
				}
			}
		}
	}
	return ""
}

func (e *SymbolExtractor) jsName(n *Node, source []byte) string {
	// const/let/var nest the name inside a variable_declarator.
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		for _, child := range n.Children {
			if child.Type == "variable_declarator" {
				if name := firstChildContent(child, source, "identifier"); name != "" {
					return name
				}
			}
		}
	}
	for _, child := range n.Children {
		if child.Type == "identifier" || child.Type == "type_identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

// extractSpecialSymbol recognizes `const f = () => {}` and
// `const f = function() {}` as function definitions. Only JS-family
// languages have this shape.
func (e *SymbolExtractor) extractSpecialSymbol(n *Node, source []byte, language string) *Symbol {
	switch language {
	case "typescript", "tsx", "javascript", "jsx":
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			return e.jsVariableFunction(n, source)
		}
	}
	return nil
}

func (e *SymbolExtractor) jsVariableFunction(n *Node, source []byte) *Symbol {
	for _, child := range n.Children {
		if child.Type != "variable_declarator" {
			continue
		}
		var name string
		var hasFunction bool
		for _, grandchild := range child.Children {
			switch grandchild.Type {
			case "identifier":
				name = grandchild.GetContent(source)
			case "arrow_function", "function", "function_expression":
				hasFunction = true
			}
		}
		if name != "" && hasFunction {
			return &Symbol{
				Name:      name,
				Type:      SymbolTypeFunction,
				StartLine: int(n.StartPoint.Row) + 1,
				EndLine:   int(n.EndPoint.Row) + 1,
				Signature: e.signatureFirstLine(n.GetContent(source), "javascript"),
			}
		}
	}
	return nil
}

// precedingLineComment returns the single line comment directly above
// a node, if any. Python is excluded: its documentation lives in
// docstrings inside the body, not above it.
func (e *SymbolExtractor) precedingLineComment(n *Node, source []byte, language string) string {
	if language == "python" || n.StartPoint.Row == 0 {
		return ""
	}

	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	prevLineEnd := lineStart - 1
	prevLineStart := prevLineEnd - 1
	for prevLineStart > 0 && source[prevLineStart-1] != '\n' {
		prevLineStart--
	}

	prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))
	if strings.HasPrefix(prevLine, "//") {
		return strings.TrimPrefix(prevLine, "//")
	}
	return ""
}

// extractSignature returns the declaration head of a symbol; what a
// reader (or the embedder) needs to know its interface without the
// body.
func (e *SymbolExtractor) extractSignature(n *Node, source []byte, symbolType SymbolType, language string) string {
	content := n.GetContent(source)
	if content == "" {
		return ""
	}
	switch symbolType {
	case SymbolTypeFunction, SymbolTypeMethod,
		SymbolTypeClass, SymbolTypeInterface, SymbolTypeType:
		return e.signatureFirstLine(content, language)
	}
	return ""
}

// signatureFirstLine trims the first line of a declaration at its
// opening brace; Python keeps the whole `def ...:` line.
func (e *SymbolExtractor) signatureFirstLine(content, language string) string {
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) == 0 {
		return ""
	}
	firstLine := strings.TrimSpace(lines[0])

	if language == "python" {
		return firstLine
	}
	if idx := strings.Index(firstLine, "{"); idx != -1 {
		return strings.TrimSpace(firstLine[:idx])
	}
	return firstLine
}
