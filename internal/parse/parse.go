// Package parse extracts declared symbols from PHP source files using tree-sitter.
package parse

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/Sharom/phpunit/internal/lang"
	"github.com/Sharom/phpunit/internal/model"
)

// ExtractSymbols parses a PHP source file and returns the classes, interfaces,
// traits and functions it declares, with methods attached as members.
// The parser must be created for PHP.
// filePath is used only for Symbol.File and should be the repo-relative path.
func ExtractSymbols(ctx context.Context, parser *sitter.Parser, source []byte, filePath string) (*model.FileInfo, error) {
	fi := &model.FileInfo{Path: filePath}
	if len(source) == 0 {
		return fi, nil
	}

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filePath, err)
	}
	defer tree.Close()

	x := &extractor{source: source, file: fi}
	x.walk(tree.RootNode())
	return fi, nil
}

type extractor struct {
	source    []byte
	file      *model.FileInfo
	namespace string
	// imports maps a lower-cased alias to the fully qualified name it imports.
	imports map[string]string
}

func (x *extractor) text(n *sitter.Node) string {
	return lang.NodeText(n, x.source)
}

// walk visits the statements of a program or namespace body.
func (x *extractor) walk(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "namespace_definition":
			x.enterNamespace(child)
		case "namespace_use_declaration":
			x.addImports(x.text(child))
		case "class_declaration", "enum_declaration":
			x.add(x.extractType(child, model.Class))
		case "interface_declaration":
			x.add(x.extractType(child, model.Interface))
		case "trait_declaration":
			x.add(x.extractType(child, model.Trait))
		case "function_definition":
			x.add(x.extractFunction(child))
		}
	}
}

func (x *extractor) add(sym *model.Symbol) {
	if sym != nil {
		x.file.Symbols = append(x.file.Symbols, sym)
	}
}

func (x *extractor) enterNamespace(node *sitter.Node) {
	name := ""
	var body *sitter.Node
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "namespace_name":
			name = x.text(child)
		case "compound_statement":
			body = child
		}
	}

	x.namespace = strings.TrimPrefix(name, `\`)
	x.imports = nil
	if x.file.Namespace == "" {
		x.file.Namespace = x.namespace
	}

	if body != nil {
		x.walk(body)
		x.namespace = ""
		x.imports = nil
	}
}

// addImports records the class aliases of a use statement such as
// `use A\B, C\D as E;` or `use A\{B, C as D};`. Function and constant
// imports are ignored.
func (x *extractor) addImports(stmt string) {
	stmt = lang.CollapseWhitespace(stmt)
	stmt = strings.TrimPrefix(stmt, "use")
	stmt = strings.TrimSuffix(strings.TrimSpace(stmt), ";")
	stmt = strings.TrimSpace(stmt)
	if strings.HasPrefix(stmt, "function ") || strings.HasPrefix(stmt, "const ") {
		return
	}

	prefix := ""
	if open := strings.IndexByte(stmt, '{'); open >= 0 {
		prefix = strings.TrimSpace(stmt[:open])
		stmt = strings.TrimSuffix(strings.TrimSpace(stmt[open+1:]), "}")
	}

	if x.imports == nil {
		x.imports = make(map[string]string)
	}
	for _, clause := range strings.Split(stmt, ",") {
		fields := strings.Fields(clause)
		if len(fields) == 0 {
			continue
		}
		full := strings.Trim(prefix+fields[0], `\`)
		alias := full
		if i := strings.LastIndexByte(full, '\\'); i >= 0 {
			alias = full[i+1:]
		}
		if len(fields) == 3 && strings.EqualFold(fields[1], "as") {
			alias = fields[2]
		}
		x.imports[strings.ToLower(alias)] = full
	}
}

// resolveName turns a name as written in source into a fully qualified name
// using the current namespace and imports.
func (x *extractor) resolveName(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, `\`) {
		return raw[1:]
	}
	if rest, ok := strings.CutPrefix(raw, `namespace\`); ok {
		return qualify(x.namespace, rest)
	}

	first, rest, nested := strings.Cut(raw, `\`)
	if full, ok := x.imports[strings.ToLower(first)]; ok {
		if nested {
			return full + `\` + rest
		}
		return full
	}
	return qualify(x.namespace, raw)
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + `\` + name
}

func (x *extractor) extractType(node *sitter.Node, kind model.SymbolKind) *model.Symbol {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	sym := &model.Symbol{
		Name:       qualify(x.namespace, x.text(nameNode)),
		Kind:       kind,
		File:       x.file.Path,
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		Visibility: model.Public,
	}
	sym.Doc, sym.DocLine = x.docComment(node)
	sym.Abstract = hasModifier(x.source[node.StartByte():nameNode.StartByte()], "abstract")

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "base_clause":
			names := x.names(child)
			if kind == model.Interface {
				sym.Interfaces = append(sym.Interfaces, names...)
			} else if len(names) > 0 {
				sym.Parent = names[0]
			}
		case "class_interface_clause":
			sym.Interfaces = append(sym.Interfaces, x.names(child)...)
		case "declaration_list", "enum_declaration_list":
			x.extractBody(child, sym)
		}
	}

	return sym
}

// names returns the resolved type names listed in an extends, implements or
// trait use clause.
func (x *extractor) names(node *sitter.Node) []string {
	var out []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "name", "qualified_name":
			out = append(out, x.resolveName(x.text(child)))
		}
	}
	return out
}

func (x *extractor) extractBody(body *sitter.Node, owner *model.Symbol) {
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		switch child.Type() {
		case "method_declaration":
			if m := x.extractMethod(child, owner); m != nil {
				owner.Members = append(owner.Members, m)
			}
		case "use_declaration":
			owner.Traits = append(owner.Traits, x.names(child)...)
		case "const_declaration":
			x.extractConstants(child, owner)
		}
	}
}

func (x *extractor) extractMethod(node *sitter.Node, owner *model.Symbol) *model.Symbol {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	m := &model.Symbol{
		Name:       x.text(nameNode),
		Kind:       model.Method,
		File:       x.file.Path,
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		Visibility: model.Public,
		Class:      owner.Name,
	}
	m.Doc, m.DocLine = x.docComment(node)

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "visibility_modifier":
			m.Visibility = model.Visibility(strings.ToLower(strings.TrimSpace(x.text(child))))
		case "static_modifier":
			m.Static = true
		case "abstract_modifier":
			m.Abstract = true
		}
	}
	if owner.Kind == model.Interface {
		m.Abstract = true
	}

	return m
}

func (x *extractor) extractConstants(node *sitter.Node, owner *model.Symbol) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		elem := node.NamedChild(i)
		if elem.Type() != "const_element" || elem.NamedChildCount() < 2 {
			continue
		}
		name := x.text(elem.NamedChild(0))
		value := literal(x.text(elem.NamedChild(int(elem.NamedChildCount()) - 1)))
		if owner.Constants == nil {
			owner.Constants = make(map[string]string)
		}
		owner.Constants[name] = value
	}
}

func (x *extractor) extractFunction(node *sitter.Node) *model.Symbol {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	fn := &model.Symbol{
		Name:       qualify(x.namespace, x.text(nameNode)),
		Kind:       model.Function,
		File:       x.file.Path,
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		Visibility: model.Public,
	}
	fn.Doc, fn.DocLine = x.docComment(node)
	return fn
}

// docComment returns the /** */ comment immediately preceding node and the
// line it starts on.
func (x *extractor) docComment(node *sitter.Node) (string, int) {
	prev := node.PrevSibling()
	for prev != nil && prev.Type() == "attribute_list" {
		prev = prev.PrevSibling()
	}
	if prev == nil || prev.Type() != "comment" {
		return "", 0
	}
	text := x.text(prev)
	if !strings.HasPrefix(text, "/**") {
		return "", 0
	}
	return text, int(prev.StartPoint().Row) + 1
}

func hasModifier(prefix []byte, modifier string) bool {
	for _, f := range strings.Fields(strings.ToLower(string(prefix))) {
		if f == modifier {
			return true
		}
	}
	return false
}

// literal strips the quotes of a string literal; other expressions are
// returned as written.
func literal(expr string) string {
	expr = strings.TrimSpace(expr)
	if len(expr) >= 2 {
		q := expr[0]
		if (q == '\'' || q == '"') && expr[len(expr)-1] == q {
			return expr[1 : len(expr)-1]
		}
	}
	return expr
}
