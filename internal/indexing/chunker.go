package indexing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter reports the token length of a text under the embedding
// model's tokenizer.
type TokenCounter func(text string) int

// NewTokenCounter builds a counter over the cl100k_base encoding.
func NewTokenCounter() (TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoding: %w", err)
	}
	return func(text string) int {
		return len(encoding.Encode(text, nil, nil))
	}, nil
}

// headingPattern matches markdown headings of depth 2 through 4. Depth-1
// headings are document titles and ride along as content.
var headingPattern = regexp.MustCompile(`^(#{2,4})\s+(.+?)\s*$`)

// MarkdownChunker splits documents on headings, carrying the current heading
// as metadata, and splits further when a section exceeds the token budget.
// An overlap of trailing lines is preserved across forced splits.
type MarkdownChunker struct {
	maxTokens     int
	overlapTokens int
	count         TokenCounter
}

// NewMarkdownChunker creates a markdown chunker with the given budgets.
func NewMarkdownChunker(maxTokens, overlapTokens int, count TokenCounter) *MarkdownChunker {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	return &MarkdownChunker{maxTokens: maxTokens, overlapTokens: overlapTokens, count: count}
}

// Chunk splits content into heading-keyed sections.
func (c *MarkdownChunker) Chunk(content string) []Chunk {
	lines := strings.Split(content, "\n")

	var chunks []Chunk
	var section []string
	heading := ""
	sectionTokens := 0

	flush := func() {
		text := strings.TrimRight(strings.Join(section, "\n"), "\n")
		if strings.TrimSpace(text) != "" {
			meta := map[string]string{}
			if heading != "" {
				meta["heading"] = heading
			}
			chunks = append(chunks, Chunk{Index: len(chunks), Text: text, Metadata: meta})
		}
		section = nil
		sectionTokens = 0
	}

	for _, line := range lines {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			flush()
			heading = m[2]
			section = append(section, line)
			sectionTokens = c.count(line)
			continue
		}

		lineTokens := c.count(line + "\n")
		if sectionTokens+lineTokens > c.maxTokens && len(section) > 0 {
			overlap := c.tailOverlap(section)
			flush()
			section = append(section, overlap...)
			sectionTokens = c.count(strings.Join(section, "\n"))
		}
		section = append(section, line)
		sectionTokens += lineTokens
	}
	flush()
	return chunks
}

// tailOverlap returns the trailing lines worth up to overlapTokens.
func (c *MarkdownChunker) tailOverlap(section []string) []string {
	if c.overlapTokens == 0 {
		return nil
	}
	var overlap []string
	tokens := 0
	for i := len(section) - 1; i >= 0; i-- {
		lineTokens := c.count(section[i] + "\n")
		if tokens+lineTokens > c.overlapTokens {
			break
		}
		overlap = append([]string{section[i]}, overlap...)
		tokens += lineTokens
	}
	return overlap
}

// declPattern matches the start of a top-level declaration: functions,
// classes, interfaces, types, and enums across the languages the tracked
// repositories hold. Only column-zero starts count as top level.
var declPattern = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?(?:async\s+)?(?:function|class|interface|enum|type|struct|func|def|impl|trait)\b`)

const (
	fallbackWindowLines  = 80
	fallbackOverlapLines = 8
)

// CodeChunker extracts each top-level declaration by brace-matching from the
// discovery site. Files with no recognizable declarations fall back to
// fixed-size line windows. Declarations that overflow the token budget are
// themselves windowed.
type CodeChunker struct {
	maxTokens int
	count     TokenCounter
}

// NewCodeChunker creates a code chunker with the given token budget.
func NewCodeChunker(maxTokens int, count TokenCounter) *CodeChunker {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &CodeChunker{maxTokens: maxTokens, count: count}
}

// Chunk splits source code into declaration-scoped chunks.
func (c *CodeChunker) Chunk(content string) []Chunk {
	lines := strings.Split(content, "\n")
	starts := declStarts(lines)
	if len(starts) == 0 {
		return c.windows(lines, nil)
	}

	var chunks []Chunk
	for i, start := range starts {
		end := braceMatchEnd(lines, start)
		if end < 0 {
			// No brace block (type alias, signature-only decl): run to the
			// line before the next declaration.
			if i+1 < len(starts) {
				end = starts[i+1] - 1
			} else {
				end = len(lines) - 1
			}
		}
		text := strings.TrimRight(strings.Join(lines[start:end+1], "\n"), "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		name := declName(lines[start])
		if c.count(text) > c.maxTokens {
			for _, window := range c.windows(lines[start:end+1], map[string]string{"symbol": name}) {
				window.Index = len(chunks)
				chunks = append(chunks, window)
			}
			continue
		}
		meta := map[string]string{}
		if name != "" {
			meta["symbol"] = name
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: text, Metadata: meta})
	}
	if len(chunks) == 0 {
		return c.windows(lines, nil)
	}
	return chunks
}

// windows splits lines into fixed-size overlapping windows.
func (c *CodeChunker) windows(lines []string, meta map[string]string) []Chunk {
	var chunks []Chunk
	step := fallbackWindowLines - fallbackOverlapLines
	for start := 0; start < len(lines); start += step {
		end := start + fallbackWindowLines
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.TrimRight(strings.Join(lines[start:end], "\n"), "\n")
		if strings.TrimSpace(text) != "" {
			window := map[string]string{}
			for k, v := range meta {
				window[k] = v
			}
			chunks = append(chunks, Chunk{Index: len(chunks), Text: text, Metadata: window})
		}
		if end == len(lines) {
			break
		}
	}
	return chunks
}

func declStarts(lines []string) []int {
	var starts []int
	for i, line := range lines {
		if declPattern.MatchString(line) {
			starts = append(starts, i)
		}
	}
	return starts
}

// braceMatchEnd scans forward from the declaration line until the brace
// depth opened there returns to zero. Returns -1 when the declaration never
// opens a block.
func braceMatchEnd(lines []string, start int) int {
	depth := 0
	opened := false
	for i := start; i < len(lines); i++ {
		for _, r := range lines[i] {
			switch r {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth <= 0 {
			return i
		}
		// A declaration whose block has not opened within its header lines
		// is blockless; stop looking at the next blank line.
		if !opened && strings.TrimSpace(lines[i]) == "" {
			return -1
		}
	}
	if opened {
		return len(lines) - 1
	}
	return -1
}

// declName extracts the declared identifier from a declaration line, best
// effort: the token after the declaring keyword.
func declName(line string) string {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '(' || r == '{' || r == '<' || r == ':' || r == '='
	})
	keywords := map[string]bool{
		"function": true, "class": true, "interface": true, "enum": true,
		"type": true, "struct": true, "func": true, "def": true, "impl": true, "trait": true,
	}
	for i, field := range fields {
		if keywords[field] && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}
