package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunk_EmptyInput(t *testing.T) {
	result := Chunk("   ", DefaultOptions())
	if result != nil {
		t.Errorf("expected nil, got %v", result)
	}
}

func TestChunk_ShortContent(t *testing.T) {
	text := "This is a short memory."
	result := Chunk(text, DefaultOptions())
	if len(result) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(result))
	}
	if result[0].Text != text {
		t.Errorf("expected %q, got %q", text, result[0].Text)
	}
}

func TestChunk_SplitsOnParagraphs(t *testing.T) {
	para := strings.Repeat("Some content filling space. ", 12) // ~336 chars
	text := "# One\n\n" + para + "\n\n# Two\n\n" + para + "\n\n# Three\n\n" + para

	opts := Options{TargetSize: 400, MaxSize: 500}
	result := Chunk(text, opts)
	if len(result) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(result))
	}
	if !strings.Contains(result[0].Text, "# One") {
		t.Errorf("first chunk should contain the first heading, got %q", result[0].Text)
	}
	for i, c := range result {
		if c.Seq != i {
			t.Errorf("chunk %d has seq %d", i, c.Seq)
		}
	}
}

func TestChunk_RespectsMaxSize(t *testing.T) {
	opts := Options{TargetSize: 200, MaxSize: 300}
	// one paragraph, many sentences, no blank lines
	text := strings.Repeat("This sentence is about fifty characters in length. ", 30)
	result := Chunk(text, opts)
	if len(result) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(result))
	}
	for _, c := range result {
		if n := utf8.RuneCountInString(c.Text); n > opts.MaxSize {
			t.Errorf("chunk exceeds max size: %d", n)
		}
	}
}

func TestChunk_HardCutsRunOnText(t *testing.T) {
	opts := Options{TargetSize: 50, MaxSize: 60}
	text := strings.Repeat("word ", 100)
	for _, c := range Chunk(text, opts) {
		if n := utf8.RuneCountInString(c.Text); n > opts.MaxSize {
			t.Errorf("chunk exceeds max size: %d", n)
		}
	}
}

func TestChunk_MergesSmallParagraphs(t *testing.T) {
	text := strings.Repeat("Short paragraph here.\n\n", 40)
	opts := Options{TargetSize: 400, MaxSize: 600}
	result := Chunk(text, opts)
	if len(result) >= 40 {
		t.Errorf("expected small paragraphs to be merged, got %d chunks", len(result))
	}
}

func TestChunk_PiecesCoverLongText(t *testing.T) {
	opts := Options{TargetSize: 100, MaxSize: 150}
	text := strings.Repeat("Alpha beta gamma delta. ", 20)
	pieces := Chunk(text, opts)
	if len(pieces) < 2 {
		t.Fatalf("expected several pieces, got %d", len(pieces))
	}
	var joined strings.Builder
	for i, p := range pieces {
		if p.Seq != i {
			t.Errorf("piece %d has seq %d", i, p.Seq)
		}
		joined.WriteString(p.Text)
	}
	if !strings.Contains(joined.String(), "Alpha beta gamma delta") {
		t.Errorf("pieces lost the source text")
	}
}
