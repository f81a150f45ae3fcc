package ingest

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// NormalizeText canonicalizes whitespace so that chunking and content
// hashing are stable across sources: line endings become LF, trailing
// whitespace is stripped per line, and runs of blank lines collapse to
// one blank line.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	var b strings.Builder
	b.Grow(len(s))
	blankRun := 0
	wroteAny := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blankRun++
			continue
		}
		if wroteAny {
			if blankRun > 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteString("\n")
			}
		}
		b.WriteString(line)
		blankRun = 0
		wroteAny = true
	}
	return b.String()
}

// markdownParser is shared; goldmark parsers are safe for concurrent use.
var markdownParser = goldmark.New(goldmark.WithExtensions(extension.Table))

// FlattenMarkdown reduces markdown (earnings transcripts arrive this way)
// to plain text by walking the goldmark AST: headings, paragraphs, lists
// and table rows become lines, inline markup is dropped.
func FlattenMarkdown(content []byte) string {
	if len(content) == 0 {
		return ""
	}

	reader := text.NewReader(content)
	doc := markdownParser.Parser().Parse(reader)

	var b strings.Builder
	b.Grow(len(content))

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading, *ast.Paragraph, *ast.ListItem:
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString("\n")
			}
			return ast.WalkContinue, nil

		case *ast.Text:
			b.Write(node.Segment.Value(content))
			return ast.WalkContinue, nil

		case *ast.String:
			b.Write(node.Value)
			return ast.WalkContinue, nil

		case *ast.CodeBlock:
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString("\n")
			}
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				b.Write(line.Value(content))
			}
			return ast.WalkSkipChildren, nil

		case *ast.FencedCodeBlock:
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString("\n")
			}
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				b.Write(line.Value(content))
			}
			return ast.WalkSkipChildren, nil

		default:
			// Table extension nodes are only identifiable by kind name.
			kindName := n.Kind().String()
			if strings.Contains(kindName, "TableRow") || strings.Contains(kindName, "TableHeader") {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteString("\n")
				}
				b.WriteString(tableRowText(n, content))
				return ast.WalkSkipChildren, nil
			}
			return ast.WalkContinue, nil
		}
	})

	return b.String()
}

// tableRowText extracts text from a table row, joining cells with pipes.
func tableRowText(row ast.Node, content []byte) string {
	var cells []string
	_ = ast.Walk(row, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if strings.Contains(node.Kind().String(), "TableCell") {
			cells = append(cells, strings.TrimSpace(nodeText(node, content)))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(cells, " | ")
}

// nodeText extracts the raw text content of a node and its children.
func nodeText(n ast.Node, content []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(content))
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
