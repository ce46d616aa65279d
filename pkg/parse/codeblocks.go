// Package parse extracts structured content from assistant markdown replies.
package parse

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// CodeBlock is one fenced code block from a markdown document.
type CodeBlock struct {
	Language string
	Code     string
}

// ExtractCodeBlocks returns every fenced code block in the markdown text,
// in document order. Fences without an info string have an empty Language.
func ExtractCodeBlocks(markdownText string) ([]CodeBlock, error) {
	var blocks []CodeBlock
	source := []byte(markdownText)
	document := goldmark.DefaultParser().Parse(text.NewReader(source))

	err := ast.Walk(document, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if cb, ok := n.(*ast.FencedCodeBlock); ok {
			blocks = append(blocks, CodeBlock{
				Language: string(cb.Language(source)),
				Code:     fencedLines(cb, source),
			})
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	return blocks, nil
}

// ExtractBlocksByLanguage returns the contents of fenced blocks whose info
// string matches one of the given languages, case-insensitively.
func ExtractBlocksByLanguage(markdownText string, languages ...string) ([]string, error) {
	wanted := map[string]bool{}
	for _, lang := range languages {
		wanted[strings.ToLower(lang)] = true
	}

	blocks, err := ExtractCodeBlocks(markdownText)
	if err != nil {
		return nil, err
	}

	var results []string
	for _, block := range blocks {
		if wanted[strings.ToLower(block.Language)] {
			results = append(results, block.Code)
		}
	}

	return results, nil
}

// fencedLines recovers the inner content of a fenced block without the
// enclosing fences. An empty block has no lines at all.
func fencedLines(cb *ast.FencedCodeBlock, source []byte) string {
	lines := cb.Lines()
	if lines.Len() == 0 {
		return ""
	}
	start := lines.At(0).Start
	stop := lines.At(lines.Len() - 1).Stop

	return string(source[start:stop])
}
