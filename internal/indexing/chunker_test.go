package indexing

import (
	"strings"
	"testing"
)

// charCounter approximates tokens as len/4, which is close enough for
// budget arithmetic and keeps the tests off the real tokenizer.
func charCounter(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

func TestMarkdownChunker_SplitsOnHeadings(t *testing.T) {
	content := strings.Join([]string{
		"# Title",
		"intro paragraph",
		"## Setup",
		"install the thing",
		"### Details",
		"more detail here",
		"## Usage",
		"run the thing",
	}, "\n")

	chunker := NewMarkdownChunker(1000, 0, charCounter)
	chunks := chunker.Chunk(content)

	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d: %+v", len(chunks), chunks)
	}
	// The depth-1 title rides along as content of the first chunk.
	if !strings.Contains(chunks[0].Text, "# Title") || !strings.Contains(chunks[0].Text, "intro paragraph") {
		t.Errorf("title section mangled: %q", chunks[0].Text)
	}
	if chunks[1].Metadata["heading"] != "Setup" {
		t.Errorf("expected Setup heading metadata, got %q", chunks[1].Metadata["heading"])
	}
	if chunks[2].Metadata["heading"] != "Details" {
		t.Errorf("expected Details heading metadata, got %q", chunks[2].Metadata["heading"])
	}
	if chunks[3].Metadata["heading"] != "Usage" {
		t.Errorf("expected Usage heading metadata, got %q", chunks[3].Metadata["heading"])
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d carries index %d", i, chunk.Index)
		}
	}
}

func TestMarkdownChunker_BudgetSplitWithOverlap(t *testing.T) {
	var lines []string
	lines = append(lines, "## Section")
	for i := 0; i < 40; i++ {
		lines = append(lines, "line "+strings.Repeat("x", 30)+" number "+string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	content := strings.Join(lines, "\n")

	chunker := NewMarkdownChunker(50, 12, charCounter)
	chunks := chunker.Chunk(content)

	if len(chunks) < 2 {
		t.Fatalf("expected the section to split, got %d chunk(s)", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Metadata["heading"] != "Section" {
			t.Errorf("chunk %d lost its heading: %+v", i, chunk.Metadata)
		}
	}
	// The overlap repeats the tail of the previous chunk at the head of the
	// next one.
	firstTail := lastLine(chunks[0].Text)
	if !strings.Contains(chunks[1].Text, firstTail) {
		t.Errorf("expected overlap %q in second chunk", firstTail)
	}
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	return lines[len(lines)-1]
}

func TestCodeChunker_ExtractsDeclarations(t *testing.T) {
	content := strings.Join([]string{
		"import { thing } from './thing';",
		"",
		"export function parseInput(raw: string): Input {",
		"  if (raw === '') {",
		"    throw new Error('empty');",
		"  }",
		"  return JSON.parse(raw);",
		"}",
		"",
		"export class Pipeline {",
		"  run(): void {",
		"    console.log('run');",
		"  }",
		"}",
		"",
		"export interface Input {",
		"  name: string;",
		"}",
	}, "\n")

	chunker := NewCodeChunker(1000, charCounter)
	chunks := chunker.Chunk(content)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 declaration chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Metadata["symbol"] != "parseInput" {
		t.Errorf("expected symbol parseInput, got %q", chunks[0].Metadata["symbol"])
	}
	if !strings.HasSuffix(strings.TrimSpace(chunks[0].Text), "}") {
		t.Errorf("function chunk not brace-closed: %q", chunks[0].Text)
	}
	if chunks[1].Metadata["symbol"] != "Pipeline" {
		t.Errorf("expected symbol Pipeline, got %q", chunks[1].Metadata["symbol"])
	}
	if chunks[2].Metadata["symbol"] != "Input" {
		t.Errorf("expected symbol Input, got %q", chunks[2].Metadata["symbol"])
	}
}

func TestCodeChunker_BlocklessDeclaration(t *testing.T) {
	content := strings.Join([]string{
		"type Alias = string;",
		"",
		"function next() {",
		"  return 1;",
		"}",
	}, "\n")

	chunker := NewCodeChunker(1000, charCounter)
	chunks := chunker.Chunk(content)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if strings.Contains(chunks[0].Text, "function next") {
		t.Errorf("alias chunk swallowed the next declaration: %q", chunks[0].Text)
	}
}

func TestCodeChunker_FallbackLineWindows(t *testing.T) {
	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, "plain data line with no declarations at all")
	}
	chunker := NewCodeChunker(1000, charCounter)
	chunks := chunker.Chunk(strings.Join(lines, "\n"))

	if len(chunks) < 2 {
		t.Fatalf("expected windowed fallback, got %d chunk(s)", len(chunks))
	}
	for i, chunk := range chunks {
		if got := len(strings.Split(chunk.Text, "\n")); got > fallbackWindowLines {
			t.Errorf("chunk %d has %d lines, window is %d", i, got, fallbackWindowLines)
		}
	}
}

func TestCodeChunker_EmptyFile(t *testing.T) {
	chunker := NewCodeChunker(1000, charCounter)
	if chunks := chunker.Chunk(""); len(chunks) != 0 {
		t.Errorf("expected no chunks for empty file, got %d", len(chunks))
	}
}
